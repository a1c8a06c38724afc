package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greg-py/Chapters-sub000/internal/club"
	"github.com/greg-py/Chapters-sub000/internal/models"
)

func TestParseDurations(t *testing.T) {
	data := map[string]struct {
		input    string
		expected *models.PhaseDurations
		wantErr  bool
	}{
		`no arguments keeps defaults`: {
			input:    "  ",
			expected: nil,
		},
		`four lengths`: {
			input:    "3 2 14 5",
			expected: &models.PhaseDurations{Suggestion: 3, Voting: 2, Reading: 14, Discussion: 5},
		},
		`too few`: {
			input:   "3 2",
			wantErr: true,
		},
		`not a number`: {
			input:   "3 two 14 5",
			wantErr: true,
		},
		`zero length`: {
			input:   "3 0 14 5",
			wantErr: true,
		},
	}

	for name, tt := range data {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := parseDurations(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSuggestion(t *testing.T) {
	data := map[string]struct {
		input    string
		expected club.SuggestionInput
		wantErr  bool
	}{
		`title and author`: {
			input:    "Dune | Frank Herbert",
			expected: club.SuggestionInput{Title: "Dune", Author: "Frank Herbert"},
		},
		`every field`: {
			input: " Dune|Frank Herbert | https://example.com/dune | spice | and sand",
			expected: club.SuggestionInput{
				Title:  "Dune",
				Author: "Frank Herbert",
				Link:   "https://example.com/dune",
				Notes:  "spice | and sand",
			},
		},
		`missing author`: {
			input:   "Dune",
			wantErr: true,
		},
		`blank author`: {
			input:   "Dune |  ",
			wantErr: true,
		},
	}

	for name, tt := range data {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSuggestion(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseBallot(t *testing.T) {
	data := map[string]struct {
		input    string
		expected []int
		wantErr  bool
	}{
		`spaces`:      {input: "2 1 3", expected: []int{2, 1, 3}},
		`commas`:      {input: "2,1, 3", expected: []int{2, 1, 3}},
		`single pick`: {input: "4", expected: []int{4}},
		`empty`:       {input: "", wantErr: true},
		`not a number`: {
			input:   "1 two",
			wantErr: true,
		},
	}

	for name, tt := range data {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := parseBallot(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTruncateString(t *testing.T) {
	data := map[string]struct {
		input    string
		limit    int
		expected string
	}{
		`within limit`: {input: "hello", limit: 10, expected: "hello"},
		`exact limit`:  {input: "hello", limit: 5, expected: "hello"},
		`truncated`:    {input: "hello world", limit: 5, expected: "hello"},
		`multibyte`:    {input: "привет мир", limit: 6, expected: "привет"},
		`empty`:        {input: "", limit: 3, expected: ""},
	}

	for name, tt := range data {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := truncateString(tt.input, tt.limit); got != tt.expected {
				t.Errorf("expected: %q, got: %q", tt.expected, got)
			}
		})
	}
}
