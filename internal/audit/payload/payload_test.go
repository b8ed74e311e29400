package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourops/internal/audit/models"
)

func TestDiff(t *testing.T) {
	t.Run("ignores key order and numeric representation", func(t *testing.T) {
		before, err := Normalize(map[string]any{"amount": 100, "paid": false})
		require.NoError(t, err)
		after, err := Normalize(map[string]any{"paid": false, "amount": 100.0})
		require.NoError(t, err)

		assert.Empty(t, Diff(before, after))
	})

	t.Run("reports changed, added and removed fields sorted", func(t *testing.T) {
		before, _ := Normalize(map[string]any{"amount": 100, "note": "x", "paid": false})
		after, _ := Normalize(map[string]any{"amount": 120, "paid": false, "paid_at": "2026-05-01"})

		assert.Equal(t, []string{"amount", "note", "paid_at"}, Diff(before, after))
	})

	t.Run("compares nested objects by value", func(t *testing.T) {
		before, _ := Normalize(map[string]any{"supplier": map[string]any{"name": "Hotel A", "tags": []string{"x"}}})
		same, _ := Normalize(map[string]any{"supplier": map[string]any{"tags": []string{"x"}, "name": "Hotel A"}})
		changed, _ := Normalize(map[string]any{"supplier": map[string]any{"name": "Hotel B", "tags": []string{"x"}}})

		assert.Empty(t, Diff(before, same))
		assert.Equal(t, []string{"supplier"}, Diff(before, changed))
	})

	t.Run("creation diffs against nothing", func(t *testing.T) {
		after, _ := Normalize(map[string]any{"name": "Ana", "document": "123"})
		assert.Equal(t, []string{"document", "name"}, Diff(nil, after))
	})
}

func TestSanitize(t *testing.T) {
	doc, err := Normalize(map[string]any{
		"name":     "Ana",
		"Password": "hunter2",
		"billing": map[string]any{
			"card_number": "4111111111111111",
			"city":        "Recife",
		},
		"contacts": []any{
			map[string]any{"phone": "555", "Token": "abc"},
		},
	})
	require.NoError(t, err)

	out := Sanitize(doc)

	assert.Equal(t, "Ana", out["name"])
	assert.Equal(t, Redacted, out["Password"])
	billing := out["billing"].(map[string]any)
	assert.Equal(t, Redacted, billing["card_number"])
	assert.Equal(t, "Recife", billing["city"])
	contact := out["contacts"].([]any)[0].(map[string]any)
	assert.Equal(t, Redacted, contact["Token"])
	assert.Equal(t, "555", contact["phone"])

	// input untouched
	assert.Equal(t, "hunter2", doc["Password"])
	assert.Nil(t, Sanitize(nil))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Atualizou payment (campos: amount, paid_at)",
		Describe(models.ActionUpdated, "payment", []string{"amount", "paid_at"}))
	assert.Equal(t, "Criou participant", Describe(models.ActionCreated, "participant", nil))
}
