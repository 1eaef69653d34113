package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		want    bool
	}{
		{"contact.created", true},
		{"transaction.stage_changed", true},
		{"*", true},
		{"contact.*", true},
		{"transaction.*", true},
		{"contact.exploded", false},
		{"billing.*", false},
		{".*", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidPattern(tt.pattern))
		})
	}
}

func TestMatchesEventType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		subscribed []string
		eventType  string
		want       bool
	}{
		{"exact match", []string{"contact.created"}, "contact.created", true},
		{"exact mismatch", []string{"contact.created"}, "contact.updated", false},
		{"category wildcard matches created", []string{"contact.*"}, "contact.created", true},
		{"category wildcard matches updated", []string{"contact.*"}, "contact.updated", true},
		{"category wildcard other category", []string{"contact.*"}, "transaction.created", false},
		{"global wildcard", []string{"*"}, "transaction.closed", true},
		{"multiple patterns", []string{"note.created", "task.*"}, "task.completed", true},
		{"empty subscription matches nothing", []string{}, "contact.created", false},
		{"prefix is not a wildcard", []string{"contact"}, "contact.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesEventType(tt.subscribed, tt.eventType))
		})
	}
}
