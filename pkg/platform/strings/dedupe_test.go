package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"nil stays nil", nil, nil},
		{"empty stays empty", []string{}, []string{}},
		{"trims keys", []string{" margin ", "deposit\t"}, []string{"margin", "deposit"}},
		{"drops repeats keeping first position", []string{"margin", "deposit", "margin"}, []string{"margin", "deposit"}},
		{"drops blanks", []string{"", "  ", "participants"}, []string{"participants"}},
		{"case sensitive", []string{"Margin", "margin"}, []string{"Margin", "margin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
