package bot

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/greg-py/Chapters-sub000/internal/club"
	"github.com/greg-py/Chapters-sub000/internal/models"
)

const maxMessageLength = 4096

var errUsage = errors.New("bad command arguments")

// parseDurations reads "/configure s v r d". No arguments keeps the defaults
// and returns nil.
func parseDurations(args string) (*models.PhaseDurations, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) != 4 {
		return nil, errUsage
	}
	n := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v <= 0 {
			return nil, errUsage
		}
		n[i] = v
	}
	return &models.PhaseDurations{
		Suggestion: n[0],
		Voting:     n[1],
		Reading:    n[2],
		Discussion: n[3],
	}, nil
}

// parseSuggestion reads "Title | Author | link | notes"; link and notes may be left out.
func parseSuggestion(args string) (club.SuggestionInput, error) {
	parts := strings.SplitN(args, "|", 4)
	if len(parts) < 2 {
		return club.SuggestionInput{}, errUsage
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	in := club.SuggestionInput{Title: parts[0], Author: parts[1]}
	if len(parts) > 2 {
		in.Link = parts[2]
	}
	if len(parts) > 3 {
		in.Notes = parts[3]
	}
	if in.Title == "" || in.Author == "" {
		return club.SuggestionInput{}, errUsage
	}
	return in, nil
}

// parseBallot reads candidate numbers separated by spaces or commas.
func parseBallot(args string) ([]int, error) {
	fields := strings.FieldsFunc(args, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil, errUsage
	}
	picks := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, errUsage
		}
		picks = append(picks, v)
	}
	return picks, nil
}

func truncateString(input string, limit int) string {
	if utf8.RuneCountInString(input) <= limit {
		return input
	}
	runes := []rune(input)
	return string(runes[:limit])
}
