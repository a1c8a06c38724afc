package scheduler

import (
	"fmt"
	"strings"

	"github.com/greg-py/Chapters-sub000/internal/cycle"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/tally"
	"github.com/greg-py/Chapters-sub000/message"
)

// announcement is the group message for c having just entered its current
// phase.
func (s *Scheduler) announcement(c *cycle.Cycle, v Validation) (string, error) {
	m := s.messages
	d := c.Durations()
	length := message.Count(d.Count(c.Phase()), d.Unit.Singular())

	switch c.Phase() {
	case models.PhaseSuggestion:
		return fmt.Sprintf(m.SuggestionPhaseStarted, length), nil
	case models.PhaseVoting:
		return fmt.Sprintf(m.VotingPhaseStarted, length, SuggestionList(m, v.Suggestions)), nil
	case models.PhaseReading:
		details := m.NoBookSelected
		if v.Selected != nil {
			details = BookDetails(m, *v.Selected)
			if v.AutoSelected && v.Decision == tally.ByRandomChoice {
				details += "\n\n" + m.WinnerPickedAtRandom
			}
		}
		return fmt.Sprintf(m.ReadingPhaseStarted, length, details), nil
	case models.PhaseDiscussion:
		title := m.UnnamedBook
		if v.Selected != nil {
			title = v.Selected.Title
		}
		return fmt.Sprintf(m.DiscussionPhaseStarted, title, length), nil
	case models.PhasePending:
	}
	return "", fmt.Errorf("%w %q", ErrUnknownPhase, c.Phase())
}

// SuggestionList numbers the suggestions the way ballots refer to them.
func SuggestionList(m *message.LocalizedMessages, suggestions []models.Suggestion) string {
	if len(suggestions) == 0 {
		return m.NoSuggestions
	}
	lines := make([]string, 0, len(suggestions))
	for i, sug := range suggestions {
		lines = append(lines, fmt.Sprintf(m.SuggestionListItem, i+1, sug.Title, sug.Author))
	}
	return strings.Join(lines, "\n")
}

// BookDetails renders title, author and the optional link and notes.
func BookDetails(m *message.LocalizedMessages, book models.Suggestion) string {
	lines := []string{fmt.Sprintf(m.SelectedBook, book.Title, book.Author)}
	if book.Link != "" {
		lines = append(lines, fmt.Sprintf(m.BookLink, book.Link))
	}
	if book.Notes != "" {
		lines = append(lines, fmt.Sprintf(m.BookNotes, book.Notes))
	}
	return strings.Join(lines, "\n")
}
