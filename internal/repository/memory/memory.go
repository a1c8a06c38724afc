// Package memory is an in-process implementation of the repository contracts.
// It backs tests and single-process runs without MongoDB.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/repository"
)

type memberKey struct {
	group int64
	user  int64
}

type Store struct {
	mu          sync.RWMutex
	clock       clock.Clock
	cycles      map[primitive.ObjectID]models.Cycle
	suggestions map[primitive.ObjectID]models.Suggestion
	members     map[memberKey]models.Member
	settings    map[int64]models.PhaseDurations
}

// New returns an empty store stamping times from c. A nil c uses the wall clock.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{
		clock:       c,
		cycles:      make(map[primitive.ObjectID]models.Cycle),
		suggestions: make(map[primitive.ObjectID]models.Suggestion),
		members:     make(map[memberKey]models.Member),
		settings:    make(map[int64]models.PhaseDurations),
	}
}

func (s *Store) CreateCycle(_ context.Context, c *models.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Status == models.StatusActive {
		for _, existing := range s.cycles {
			if existing.GroupID == c.GroupID && existing.Status == models.StatusActive {
				return repository.ErrActiveCycleExists
			}
		}
	}
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.PhaseTimings == nil {
		c.PhaseTimings = map[models.Phase]models.PhaseTiming{}
	}
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.cycles[c.ID] = c.Clone()
	return nil
}

func (s *Store) ListActiveCycles(context.Context) ([]models.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Cycle
	for _, c := range s.cycles {
		if c.Status == models.StatusActive {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetCycleByID(_ context.Context, id primitive.ObjectID) (*models.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cycles[id]
	if !ok {
		return nil, fmt.Errorf("cycle with id %s: %w", id.Hex(), repository.ErrNotFound)
	}
	out := c.Clone()
	return &out, nil
}

func (s *Store) GetActiveCycleByGroup(_ context.Context, groupID int64) (*models.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cycles {
		if c.GroupID == groupID && c.Status == models.StatusActive {
			out := c.Clone()
			return &out, nil
		}
	}
	return nil, fmt.Errorf("active cycle for group %d: %w", groupID, repository.ErrNotFound)
}

func (s *Store) UpdateCycle(_ context.Context, id primitive.ObjectID, u models.CycleUpdate) (int64, error) {
	if u.Empty() {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[id]
	if !ok {
		return 0, nil
	}
	s.cycles[id] = u.Apply(c, s.clock.Now())
	return 1, nil
}

func (s *Store) DeleteCycle(_ context.Context, id primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cycles[id]; !ok {
		return 0, nil
	}
	delete(s.cycles, id)
	return 1, nil
}

func (s *Store) AddSuggestion(_ context.Context, sug *models.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sug.ID.IsZero() {
		sug.ID = primitive.NewObjectID()
	}
	if sug.CreatedAt.IsZero() {
		sug.CreatedAt = s.clock.Now()
	}
	if sug.Voters == nil {
		sug.Voters = []int64{}
	}
	s.suggestions[sug.ID] = cloneSuggestion(*sug)
	return nil
}

func (s *Store) ListSuggestionsForCycle(_ context.Context, cycleID primitive.ObjectID) ([]models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Suggestion
	for _, sug := range s.suggestions {
		if sug.CycleID == cycleID {
			out = append(out, cloneSuggestion(sug))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetSuggestionByID(_ context.Context, id primitive.ObjectID) (*models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sug, ok := s.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("suggestion with id %s: %w", id.Hex(), repository.ErrNotFound)
	}
	out := cloneSuggestion(sug)
	return &out, nil
}

func (s *Store) RecordVote(_ context.Context, cycleID primitive.ObjectID, userID int64, deltas []models.VoteDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltas {
		sug, ok := s.suggestions[d.SuggestionID]
		if !ok || sug.CycleID != cycleID {
			return fmt.Errorf("vote references a suggestion outside cycle %s: %w", cycleID.Hex(), repository.ErrNotFound)
		}
	}
	for _, d := range deltas {
		sug := s.suggestions[d.SuggestionID]
		sug.TotalPoints += d.Points
		if !slices.Contains(sug.Voters, userID) {
			sug.Voters = append(slices.Clone(sug.Voters), userID)
		}
		s.suggestions[d.SuggestionID] = sug
	}
	return nil
}

func (s *Store) HasVoted(_ context.Context, cycleID primitive.ObjectID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sug := range s.suggestions {
		if sug.CycleID == cycleID && sug.HasVoter(userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ResetSuggestionVotes(_ context.Context, cycleID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sug := range s.suggestions {
		if sug.CycleID != cycleID {
			continue
		}
		if sug.TotalPoints != 0 || len(sug.Voters) != 0 {
			n++
		}
		sug.TotalPoints = 0
		sug.Voters = []int64{}
		s.suggestions[id] = sug
	}
	return n, nil
}

func (s *Store) DeleteSuggestionsForCycle(_ context.Context, cycleID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sug := range s.suggestions {
		if sug.CycleID == cycleID {
			delete(s.suggestions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveMember(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{group: m.GroupID, user: m.UserID}
	saved := *m
	saved.Archived = false
	if existing, ok := s.members[key]; ok {
		saved.JoinedAt = existing.JoinedAt
	} else if saved.JoinedAt.IsZero() {
		saved.JoinedAt = s.clock.Now()
	}
	s.members[key] = saved
	return nil
}

func (s *Store) ArchiveMember(_ context.Context, groupID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{group: groupID, user: userID}
	m, ok := s.members[key]
	if !ok {
		return fmt.Errorf("member %d of group %d: %w", userID, groupID, repository.ErrNotFound)
	}
	m.Archived = true
	s.members[key] = m
	return nil
}

func (s *Store) ListGroupMembers(_ context.Context, groupID int64) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Member
	for _, m := range s.members {
		if m.GroupID == groupID && !m.Archived {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) SaveGroupDurations(_ context.Context, groupID int64, d models.PhaseDurations) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[groupID] = d
	return nil
}

func (s *Store) GetGroupDurations(_ context.Context, groupID int64) (models.PhaseDurations, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.settings[groupID]
	if !ok {
		return models.PhaseDurations{}, fmt.Errorf("settings of group %d: %w", groupID, repository.ErrNotFound)
	}
	return d, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Now exposes the store clock so tests can stamp fixtures consistently.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func cloneSuggestion(s models.Suggestion) models.Suggestion {
	s.Voters = slices.Clone(s.Voters)
	return s
}
