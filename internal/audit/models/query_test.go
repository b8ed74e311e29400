package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

func TestFilters(t *testing.T) {
	orderID := id.OrderID(uuid.New())

	t.Run("normalize applies pagination defaults", func(t *testing.T) {
		f := Filters{OrderID: orderID}
		f.Normalize()
		assert.Equal(t, 1, f.Page)
		assert.Equal(t, DefaultPageLimit, f.Limit)

		f = Filters{OrderID: orderID, Page: 3, Limit: 10_000}
		f.Normalize()
		assert.Equal(t, MaxPageLimit, f.Limit)
		assert.Equal(t, 2*MaxPageLimit, f.Offset())
	})

	t.Run("only the bare first page is cacheable", func(t *testing.T) {
		base := Filters{OrderID: orderID, Page: 1, Limit: 50}
		assert.True(t, base.Cacheable(50))

		second := base
		second.Page = 2
		assert.False(t, second.Cacheable(50))

		wide := base
		wide.Limit = 51
		assert.False(t, wide.Cacheable(50))

		actor := id.UserID(uuid.New())
		byActor := base
		byActor.ActorID = &actor
		assert.False(t, byActor.Cacheable(50))

		byAction := base
		byAction.Action = ActionUpdated
		assert.False(t, byAction.Cacheable(50))

		byKind := base
		byKind.EntityKind = "payment"
		assert.False(t, byKind.Cacheable(50))

		since := time.Now()
		byDate := base
		byDate.From = &since
		assert.False(t, byDate.Cacheable(50))
	})

	t.Run("validate", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(Filters{}.Validate(), dErrors.CodeValidation))
		assert.Error(t, Filters{OrderID: orderID, Action: "renamed"}.Validate())

		from := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
		to := from.Add(-time.Hour)
		assert.Error(t, Filters{OrderID: orderID, From: &from, To: &to}.Validate())
		assert.NoError(t, Filters{OrderID: orderID, From: &to, To: &from}.Validate())
	})
}

func TestLogParamsValidate(t *testing.T) {
	valid := LogParams{
		OrderID:    id.OrderID(uuid.New()),
		ActorID:    id.UserID(uuid.New()),
		Action:     ActionUpdated,
		EntityKind: "payment",
		EntityID:   "p-1",
	}
	assert.NoError(t, valid.Validate())

	noActor := valid
	noActor.ActorID = id.UserID(uuid.Nil)
	assert.Error(t, noActor.Validate())

	badAction := valid
	badAction.Action = "archived"
	assert.Error(t, badAction.Validate())

	blank := valid
	blank.EntityKind = "  "
	blank.Normalize()
	assert.Error(t, blank.Validate())
}
