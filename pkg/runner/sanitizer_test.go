package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain", input: "hello", want: "hello"},
		{name: "keeps whitespace", input: "a\tb\nc\r", want: "a\tb\nc\r"},
		{name: "strips escape and bell", input: "\x1b[31mred\a", want: "[31mred"},
		{name: "too large", input: strings.Repeat("x", DefaultMaxInputSize+1), wantErr: ErrInputTooLarge},
		{name: "invalid utf8", input: "\xff", wantErr: ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeInput(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeInput_EnvLimit(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "3")
	_, err := SanitizeInput("abcd")
	assert.ErrorIs(t, err, ErrInputTooLarge)
}

func TestSanitizeInputs_Nested(t *testing.T) {
	got, err := SanitizeInputs(map[string]any{
		"text":  "ok\x00",
		"n":     3,
		"list":  []any{"a\x07", 1},
		"inner": map[string]any{"k": "v\x1b"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"text":  "ok",
		"n":     3,
		"list":  []any{"a", 1},
		"inner": map[string]any{"k": "v"},
	}, got)

	_, err = SanitizeInputs(map[string]any{"bad": "\xff"})
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}
