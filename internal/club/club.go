// Package club implements the group commands of the book club: creating and
// configuring a cycle, suggesting and voting, and the manual overrides.
package club

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/cycle"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/repository"
	"github.com/greg-py/Chapters-sub000/internal/scheduler"
)

const (
	maxTitleLength = 200
	maxNotesLength = 500
	maxBallotSize  = 3
)

var (
	ErrActiveCycleExists    = errors.New("group already has an active cycle")
	ErrNoActiveCycle        = errors.New("group has no active cycle")
	ErrAlreadyConfigured    = errors.New("cycle is already configured")
	ErrAlreadyVoted         = errors.New("user has already voted")
	ErrWrongPhase           = errors.New("operation not allowed in the current phase")
	ErrInvalidBallot        = errors.New("invalid ballot")
	ErrInvalidSuggestion    = errors.New("invalid suggestion")
	ErrDuplicateSuggestion  = errors.New("book is already suggested")
	ErrSelectedBookNotFound = errors.New("selected book not found")
	ErrInvalidTarget        = errors.New("cannot move to that phase")
	ErrInvalidDurations     = errors.New("invalid phase durations")
)

// WrongPhaseError reports the phase that rejected an operation.
type WrongPhaseError struct {
	Phase models.Phase
}

func (e *WrongPhaseError) Error() string {
	return fmt.Sprintf("not allowed during the %s phase", e.Phase)
}

func (e *WrongPhaseError) Is(target error) bool {
	return target == ErrWrongPhase
}

// BlockedError is a refused manual transition.
type BlockedError struct {
	Reason scheduler.BlockReason
	// Text explains the refusal to the group.
	Text string
}

func (e *BlockedError) Error() string {
	return "transition blocked: " + string(e.Reason)
}

// Repository is everything the commands read and write.
type Repository interface {
	scheduler.Repository
	CreateCycle(ctx context.Context, c *models.Cycle) error
	GetActiveCycleByGroup(ctx context.Context, groupID int64) (*models.Cycle, error)
	DeleteCycle(ctx context.Context, id primitive.ObjectID) (int64, error)
	AddSuggestion(ctx context.Context, s *models.Suggestion) error
	RecordVote(ctx context.Context, cycleID primitive.ObjectID, userID int64, deltas []models.VoteDelta) error
	HasVoted(ctx context.Context, cycleID primitive.ObjectID, userID int64) (bool, error)
	DeleteSuggestionsForCycle(ctx context.Context, cycleID primitive.ObjectID) (int64, error)
	SaveGroupDurations(ctx context.Context, groupID int64, d models.PhaseDurations) error
	GetGroupDurations(ctx context.Context, groupID int64) (models.PhaseDurations, error)
}

// Service runs the commands. Phase changes go through the scheduler so
// manual and automatic transitions share validation and announcements.
type Service struct {
	repo      Repository
	scheduler *scheduler.Scheduler
	clock     clock.Clock
	unit      models.DurationUnit
	log       *zap.Logger
	policy    *bluemonday.Policy
}

// NewService returns a Service creating cycles whose phases are measured in unit.
func NewService(repo Repository, sched *scheduler.Scheduler, clk clock.Clock, unit models.DurationUnit, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		scheduler: sched,
		clock:     clk,
		unit:      unit,
		log:       logger,
		policy:    bluemonday.StrictPolicy(),
	}
}

// Unit is the duration unit of new cycles.
func (s *Service) Unit() models.DurationUnit {
	return s.unit
}

func (s *Service) active(ctx context.Context, groupID int64) (*cycle.Cycle, error) {
	data, err := s.repo.GetActiveCycleByGroup(ctx, groupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveCycle
	}
	if err != nil {
		return nil, err
	}
	return cycle.New(*data, s.repo, s.clock), nil
}

// CreateCycle opens a pending cycle for the group. Its durations come from
// the group's last configuration, or the defaults.
func (s *Service) CreateCycle(ctx context.Context, groupID, createdBy int64, name string) (*cycle.Cycle, error) {
	if _, err := s.active(ctx, groupID); err == nil {
		return nil, ErrActiveCycleExists
	} else if !errors.Is(err, ErrNoActiveCycle) {
		return nil, err
	}

	durations := models.DefaultPhaseDurations(s.unit)
	saved, err := s.repo.GetGroupDurations(ctx, groupID)
	switch {
	case err == nil && saved.Unit == s.unit && saved.Validate() == nil:
		durations = saved
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	data := &models.Cycle{
		GroupID:        groupID,
		Name:           s.clean(name),
		CurrentPhase:   models.PhasePending,
		Status:         models.StatusActive,
		PhaseDurations: durations,
		PhaseTimings:   map[models.Phase]models.PhaseTiming{},
		CreatedBy:      createdBy,
	}
	if err := s.repo.CreateCycle(ctx, data); err != nil {
		if errors.Is(err, repository.ErrActiveCycleExists) {
			return nil, ErrActiveCycleExists
		}
		return nil, err
	}
	s.log.Info("cycle created", zap.Int64("group_id", groupID), zap.String("cycle_id", data.ID.Hex()))
	return cycle.New(*data, s.repo, s.clock), nil
}

// Configure sets the phase lengths of a pending cycle and opens its
// suggestion phase. A nil d keeps the lengths chosen at creation.
func (s *Service) Configure(ctx context.Context, groupID int64, d *models.PhaseDurations) (*cycle.Cycle, error) {
	c, err := s.active(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if c.Phase() != models.PhasePending {
		return nil, ErrAlreadyConfigured
	}

	durations := c.Durations()
	if d != nil {
		durations = *d
		durations.Unit = s.unit
	}
	if err := durations.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDurations, err)
	}
	c, err = c.Update(ctx, models.CycleUpdate{PhaseDurations: models.Set(durations)})
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveGroupDurations(ctx, groupID, durations); err != nil {
		s.log.Warn("cannot save group durations", zap.Int64("group_id", groupID), zap.Error(err))
	}

	res, err := s.scheduler.Advance(ctx, c, scheduler.TriggerManual)
	if err != nil {
		return nil, err
	}
	return res.Cycle, nil
}

// SuggestionInput is a book proposal as typed by a member.
type SuggestionInput struct {
	Title  string
	Author string
	Link   string
	Notes  string
}

// Suggest adds a book to the cycle during its suggestion phase. Markup is
// stripped from every field.
func (s *Service) Suggest(ctx context.Context, groupID, proposerID int64, in SuggestionInput) (*models.Suggestion, error) {
	c, err := s.active(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if c.Phase() != models.PhaseSuggestion {
		return nil, &WrongPhaseError{Phase: c.Phase()}
	}

	sug := &models.Suggestion{
		CycleID:    c.ID(),
		Title:      s.clean(in.Title),
		Author:     s.clean(in.Author),
		Link:       s.clean(in.Link),
		Notes:      s.clean(in.Notes),
		ProposerID: proposerID,
	}
	if err := validateSuggestion(sug); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListSuggestionsForCycle(ctx, c.ID())
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Title, sug.Title) && strings.EqualFold(e.Author, sug.Author) {
			return nil, ErrDuplicateSuggestion
		}
	}

	if err := s.repo.AddSuggestion(ctx, sug); err != nil {
		return nil, err
	}
	return sug, nil
}

func (s *Service) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func validateSuggestion(sug *models.Suggestion) error {
	switch {
	case sug.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidSuggestion)
	case sug.Author == "":
		return fmt.Errorf("%w: author is required", ErrInvalidSuggestion)
	case len(sug.Title) > maxTitleLength || len(sug.Author) > maxTitleLength:
		return fmt.Errorf("%w: title or author too long", ErrInvalidSuggestion)
	case len(sug.Notes) > maxNotesLength:
		return fmt.Errorf("%w: notes too long", ErrInvalidSuggestion)
	}
	if sug.Link != "" {
		u, err := url.Parse(sug.Link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: link must be an http(s) URL", ErrInvalidSuggestion)
		}
	}
	return nil
}

// ballotWeights are the points of the first, second and third choice.
var ballotWeights = [maxBallotSize]int{
	models.FirstChoicePoints,
	models.SecondChoicePoints,
	models.ThirdChoicePoints,
}

// Vote records a ranked ballot. picks are 1-based positions in the
// suggestion list, best first; one to three distinct picks are accepted.
func (s *Service) Vote(ctx context.Context, groupID, userID int64, picks []int) error {
	c, err := s.active(ctx, groupID)
	if err != nil {
		return err
	}
	if c.Phase() != models.PhaseVoting {
		return &WrongPhaseError{Phase: c.Phase()}
	}

	suggestions, err := s.repo.ListSuggestionsForCycle(ctx, c.ID())
	if err != nil {
		return err
	}
	deltas, err := ballot(suggestions, picks)
	if err != nil {
		return err
	}

	voted, err := s.repo.HasVoted(ctx, c.ID(), userID)
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}
	return s.repo.RecordVote(ctx, c.ID(), userID, deltas)
}

func ballot(suggestions []models.Suggestion, picks []int) ([]models.VoteDelta, error) {
	if len(picks) == 0 || len(picks) > maxBallotSize {
		return nil, fmt.Errorf("%w: choose between 1 and %d books", ErrInvalidBallot, maxBallotSize)
	}
	seen := make(map[int]struct{}, len(picks))
	deltas := make([]models.VoteDelta, 0, len(picks))
	for i, p := range picks {
		if p < 1 || p > len(suggestions) {
			return nil, fmt.Errorf("%w: no suggestion number %d", ErrInvalidBallot, p)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: suggestion %d chosen twice", ErrInvalidBallot, p)
		}
		seen[p] = struct{}{}
		deltas = append(deltas, models.VoteDelta{SuggestionID: suggestions[p-1].ID, Points: ballotWeights[i]})
	}
	return deltas, nil
}

// ResetToSuggestion sends the cycle back to a fresh suggestion phase,
// clearing votes and the selected book but keeping the suggestions.
func (s *Service) ResetToSuggestion(ctx context.Context, groupID int64) (*cycle.Cycle, error) {
	c, err := s.active(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if c.Phase() == models.PhasePending {
		return nil, &WrongPhaseError{Phase: c.Phase()}
	}
	return s.scheduler.ResetToSuggestion(ctx, c)
}

// ForcePhase moves the cycle to target without waiting for its deadline.
// Only the next phase is reachable, with the usual validation; the
// suggestion phase is reachable from anywhere as a reset.
func (s *Service) ForcePhase(ctx context.Context, groupID int64, target models.Phase) (*cycle.Cycle, error) {
	if target == models.PhaseSuggestion {
		return s.ResetToSuggestion(ctx, groupID)
	}
	c, err := s.active(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if next, ok := c.Phase().Next(); !ok || next != target || c.Phase() == models.PhasePending {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTarget, target, c.Phase())
	}

	res, err := s.scheduler.Advance(ctx, c, scheduler.TriggerManual)
	if err != nil {
		return nil, err
	}
	if res.Outcome == scheduler.OutcomeBlocked {
		if res.Validation.Reason == scheduler.ReasonSelectedBookNotFound {
			return nil, fmt.Errorf("%w: %w", ErrSelectedBookNotFound, &BlockedError{
				Reason: res.Validation.Reason,
				Text:   s.scheduler.BlockedText(res.Validation),
			})
		}
		return nil, &BlockedError{Reason: res.Validation.Reason, Text: s.scheduler.BlockedText(res.Validation)}
	}
	s.log.Info("phase forced", zap.Int64("group_id", groupID), zap.String("from", res.From.String()), zap.String("to", res.To.String()))
	return res.Cycle, nil
}

// Cancel deletes the active cycle and its suggestions.
func (s *Service) Cancel(ctx context.Context, groupID int64) error {
	c, err := s.active(ctx, groupID)
	if err != nil {
		return err
	}
	if _, err := s.repo.DeleteSuggestionsForCycle(ctx, c.ID()); err != nil {
		return err
	}
	if _, err := s.repo.DeleteCycle(ctx, c.ID()); err != nil {
		return err
	}
	s.log.Info("cycle cancelled", zap.Int64("group_id", groupID), zap.String("cycle_id", c.ID().Hex()))
	return nil
}

// Report is a read-only view of the active cycle.
type Report struct {
	Cycle        *cycle.Cycle
	Stats        cycle.Stats
	Suggestions  []models.Suggestion
	SelectedBook *models.Suggestion
}

// Status describes the active cycle of the group.
func (s *Service) Status(ctx context.Context, groupID int64) (*Report, error) {
	c, err := s.active(ctx, groupID)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.repo.ListSuggestionsForCycle(ctx, c.ID())
	if err != nil {
		return nil, err
	}
	r := &Report{
		Cycle:       c,
		Suggestions: suggestions,
		Stats: cycle.Stats{
			SuggestionCount: len(suggestions),
			VoterCount:      len(cycle.Voters(suggestions)),
		},
	}
	if id, ok := c.SelectedBookID(); ok {
		for i := range suggestions {
			if suggestions[i].ID == id {
				r.SelectedBook = &suggestions[i]
			}
		}
		if r.SelectedBook == nil {
			return nil, ErrSelectedBookNotFound
		}
	}
	return r, nil
}
