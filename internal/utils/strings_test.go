package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single symbol",
			input:    "000001.SZ",
			expected: []string{"000001.SZ"},
		},
		{
			name:     "two symbols with space",
			input:    "000001.SZ, 600519.SH",
			expected: []string{"000001.SZ", "600519.SH"},
		},
		{
			name:     "stray commas and whitespace",
			input:    " ,000001.SZ,, 600519.SH ,",
			expected: []string{"000001.SZ", "600519.SH"},
		},
		{
			name:     "only separators",
			input:    " , , ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseList(tt.input))
		})
	}
}
