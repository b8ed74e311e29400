package tx

import (
	"context"
	"sync"
)

// MemoryRunner serializes callbacks behind a mutex. In-memory stores register
// compensating actions with OnRollback; they run in reverse order when the
// callback fails, so a unit of work either applies fully or not at all.
type MemoryRunner struct {
	mu sync.Mutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

type memoryTxKey struct{}

type memoryTx struct {
	runner *MemoryRunner
	undo   []func()
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mtx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && mtx.runner == r {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	mtx := &memoryTx{runner: r}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, mtx)); err != nil {
		for i := len(mtx.undo) - 1; i >= 0; i-- {
			mtx.undo[i]()
		}
		return err
	}
	return nil
}

// OnRollback registers undo to run if the enclosing in-memory transaction
// fails. Outside a transaction it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	if mtx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		mtx.undo = append(mtx.undo, undo)
	}
}
