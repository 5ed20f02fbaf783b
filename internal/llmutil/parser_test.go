// File: internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	Thoughts []string `json:"thoughts"`
	Variant  string   `json:"variant"`
}

func TestParseJSONResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    decision
		wantErr bool
	}{
		{
			name:  "bare json",
			input: `{"thoughts":["ok"],"variant":"run"}`,
			want:  decision{Thoughts: []string{"ok"}, Variant: "run"},
		},
		{
			name:  "json fence",
			input: "```json\n{\"thoughts\":[\"fenced\"],\"variant\":\"click\"}\n```",
			want:  decision{Thoughts: []string{"fenced"}, Variant: "click"},
		},
		{
			name:  "fence without language tag",
			input: "```\n{\"variant\":\"navigate\"}\n```",
			want:  decision{Variant: "navigate"},
		},
		{
			name:  "conversational wrapper",
			input: "Sure, here is my decision: {\"variant\":\"run\"} hope that helps",
			want:  decision{Variant: "run"},
		},
		{
			name:    "no json at all",
			input:   "I cannot decide.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			input:   `{"variant": run}`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseJSONResponse[decision](tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
