// Package uuid tests for record id generation and validation.
package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_isValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		assert.True(t, IsValid(id), "generated id %q should be valid", id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestNewV7(t *testing.T) {
	id := NewV7()
	_, err := Normalize(id)
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("{6BA7B810-9DAD-41D1-80B4-00C04FD430C8}")
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-41d1-80b4-00c04fd430c8", got)

	_, err = Normalize("not-a-uuid")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"00000000-0000-4000-8000-000000000001", true},
		{"6ba7b810-9dad-41d1-80b4-00c04fd430c8", true},
		{"6BA7B810-9DAD-41D1-80B4-00C04FD430C8", false},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"6ba7b810-9dad-41d1-c0b4-00c04fd430c8", false},
		{"6ba7b8109dad41d180b400c04fd430c8", false},
		{"", false},
	}
	for _, tt := range tests {
		err := Validate(tt.in)
		if tt.valid {
			assert.NoError(t, err, tt.in)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}
