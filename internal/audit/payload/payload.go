// Package payload prepares before/after documents for the audit trail:
// structural diffing, secret redaction and description synthesis.
package payload

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"tourops/internal/audit/models"
)

// Redacted replaces the value of every denylisted field.
const Redacted = "[REDACTED]"

var denylist = map[string]struct{}{
	"password":      {},
	"senha":         {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"client_secret": {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"cookie":        {},
	"credit_card":   {},
	"card_number":   {},
	"cvv":           {},
	"pin":           {},
}

// IsDenied reports whether a field name is on the denylist (case-insensitive).
func IsDenied(field string) bool {
	_, ok := denylist[strings.ToLower(strings.TrimSpace(field))]
	return ok
}

// Normalize converts a document into its JSON shape (maps, slices, float64,
// string, bool, nil) so documents built from different Go types compare by
// value.
func Normalize(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	return out, nil
}

// Diff returns the sorted top-level field names whose values differ between
// before and after, including fields present on only one side. Both
// documents must already be normalized.
func Diff(before, after map[string]any) []string {
	changed := []string{}
	for key, b := range before {
		a, ok := after[key]
		if !ok || !reflect.DeepEqual(a, b) {
			changed = append(changed, key)
		}
	}
	for key := range after {
		if _, ok := before[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

// Sanitize returns a deep copy of a normalized document with every
// denylisted field redacted, at any nesting depth.
func Sanitize(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return sanitizeMap(doc)
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, v := range m {
		if IsDenied(key) {
			out[key] = Redacted
			continue
		}
		out[key] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = sanitizeValue(elem)
		}
		return out
	default:
		return v
	}
}

// Describe synthesizes a human description from the action, the entity kind
// and the changed fields.
func Describe(action models.Action, entityKind string, changed []string) string {
	desc := fmt.Sprintf("%s %s", capitalize(action.Verb()), entityKind)
	if len(changed) == 0 {
		return desc
	}
	return fmt.Sprintf("%s (campos: %s)", desc, strings.Join(changed, ", "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
