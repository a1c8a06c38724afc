package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/repository/memory"
	"github.com/greg-py/Chapters-sub000/internal/tally"
	"github.com/greg-py/Chapters-sub000/message"
)

const group int64 = -1001

var (
	now     = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	day     = 24 * time.Hour
	errDown = errors.New("service unavailable")
)

type sent struct {
	groupID int64
	text    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) PostMessage(_ context.Context, groupID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{groupID: groupID, text: text})
	return nil
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeNotifier) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeDirectory struct {
	members map[int64][]int64
	bots    map[int64]bool
	listErr error
	botErr  error
}

func (f *fakeDirectory) ListGroupMembers(_ context.Context, groupID int64) ([]int64, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.members[groupID], nil
}

func (f *fakeDirectory) IsBotUser(_ context.Context, _, userID int64) (bool, error) {
	if f.botErr != nil {
		return false, f.botErr
	}
	return f.bots[userID], nil
}

// firstRand always picks the first tied suggestion.
type firstRand struct{ calls int }

func (r *firstRand) IntN(int) int {
	r.calls++
	return 0
}

type env struct {
	store    *memory.Store
	clock    *clock.Fake
	notifier *fakeNotifier
	dir      *fakeDirectory
	rand     *firstRand
	sched    *Scheduler
	msgs     *message.LocalizedMessages
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:    clock.NewFake(now),
		notifier: &fakeNotifier{},
		dir:      &fakeDirectory{members: map[int64][]int64{}, bots: map[int64]bool{}},
		rand:     &firstRand{},
		msgs:     message.Default(),
	}
	e.store = memory.New(e.clock)
	e.sched = New(Config{IOTimeout: time.Second, Concurrency: 2}, e.store, e.notifier, e.dir, e.msgs, zap.NewNop(),
		WithClock(e.clock),
		WithResolver(tally.NewResolver(e.rand)))
	return e
}

func at(t time.Time) *time.Time { return &t }

// createCycle stores an active cycle in phase p that started at start. A
// zero start leaves the phase unstamped.
func (e *env) createCycle(t *testing.T, p models.Phase, start time.Time) models.Cycle {
	t.Helper()
	return e.createCycleIn(t, group, p, start)
}

func (e *env) createCycleIn(t *testing.T, groupID int64, p models.Phase, start time.Time) models.Cycle {
	t.Helper()
	c := &models.Cycle{
		GroupID:        groupID,
		Name:           "Spring",
		CurrentPhase:   p,
		Status:         models.StatusActive,
		PhaseDurations: models.DefaultPhaseDurations(models.UnitDays),
		PhaseTimings:   map[models.Phase]models.PhaseTiming{},
	}
	if !start.IsZero() {
		c.PhaseTimings[p] = models.PhaseTiming{StartDate: at(start)}
	}
	require.NoError(t, e.store.CreateCycle(context.Background(), c))
	return *c
}

func (e *env) update(t *testing.T, id primitive.ObjectID, u models.CycleUpdate) {
	t.Helper()
	_, err := e.store.UpdateCycle(context.Background(), id, u)
	require.NoError(t, err)
}

func (e *env) addSuggestions(t *testing.T, cycleID primitive.ObjectID, titles ...string) []models.Suggestion {
	t.Helper()
	out := make([]models.Suggestion, 0, len(titles))
	for i, title := range titles {
		s := &models.Suggestion{
			CycleID:    cycleID,
			Title:      title,
			Author:     "Author " + title,
			ProposerID: int64(i + 1),
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, e.store.AddSuggestion(context.Background(), s))
		out = append(out, *s)
	}
	return out
}

func (e *env) vote(t *testing.T, cycleID primitive.ObjectID, userID int64, deltas ...models.VoteDelta) {
	t.Helper()
	require.NoError(t, e.store.RecordVote(context.Background(), cycleID, userID, deltas))
}

func (e *env) reload(t *testing.T, id primitive.ObjectID) models.Cycle {
	t.Helper()
	c, err := e.store.GetCycleByID(context.Background(), id)
	require.NoError(t, err)
	return *c
}

func (e *env) poll(t *testing.T) PollReport {
	t.Helper()
	report, err := e.sched.TriggerCheck(context.Background())
	require.NoError(t, err)
	return report
}

func points(id primitive.ObjectID, p int) models.VoteDelta {
	return models.VoteDelta{SuggestionID: id, Points: p}
}
