package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/clock"
	"github.com/greg-py/Chapters-sub000/internal/club"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/repository/memory"
	"github.com/greg-py/Chapters-sub000/internal/scheduler"
	"github.com/greg-py/Chapters-sub000/message"
)

const (
	group  int64 = -5005
	selfID int64 = 999
)

var now = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu      sync.Mutex
	replies []string
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.replies = append(f.replies, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

type groupPosts struct {
	mu    sync.Mutex
	texts []string
}

func (g *groupPosts) PostMessage(_ context.Context, _ int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, text)
	return nil
}

type nobody struct{}

func (nobody) ListGroupMembers(context.Context, int64) ([]int64, error) { return nil, nil }
func (nobody) IsBotUser(context.Context, int64, int64) (bool, error)    { return false, nil }

type fixture struct {
	bot      *Bot
	api      *fakeAPI
	store    *memory.Store
	posts    *groupPosts
	messages *message.LocalizedMessages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(now)
	store := memory.New(clk)
	posts := &groupPosts{}
	messages := message.Default()
	sched := scheduler.New(scheduler.Config{}, store, posts, nobody{}, messages, zap.NewNop(), scheduler.WithClock(clk))
	svc := club.NewService(store, sched, clk, models.UnitDays, zap.NewNop())
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	return &fixture{
		bot:      NewBot(api, selfID, svc, store, messages, zap.NewNop(), 60),
		api:      api,
		store:    store,
		posts:    posts,
		messages: messages,
	}
}

func groupChat() *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: group, Type: "supergroup"}
}

func command(userID int64, text string) tgbotapi.Update {
	name := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text:     text,
			Chat:     groupChat(),
			From:     &tgbotapi.User{ID: userID, FirstName: fmt.Sprintf("User%d", userID)},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
		},
	}
}

func (f *fixture) send(userID int64, text string) string {
	f.bot.handleUpdate(context.Background(), command(userID, text))
	return f.api.last()
}

func TestCommandFlow(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, fmt.Sprintf(f.messages.CycleCreated, models.UnitDays), f.send(1, "/start_cycle Spring"))
	assert.Equal(t, f.messages.CycleAlreadyActive, f.send(1, "/start_cycle"))

	replies := f.api.count()
	f.send(1, "/configure 3 2 14 5")
	assert.Equal(t, replies, f.api.count())
	require.Len(t, f.posts.texts, 1)
	assert.Equal(t, fmt.Sprintf(f.messages.SuggestionPhaseStarted, "3 days"), f.posts.texts[0])

	assert.Equal(t, fmt.Sprintf(f.messages.SuggestionAdded, "Dune", "Frank Herbert"), f.send(1, "/suggest Dune | Frank Herbert"))
	assert.Equal(t, f.messages.BookAlreadyProposed, f.send(2, "/suggest dune | frank herbert"))
	assert.Equal(t, fmt.Sprintf(f.messages.WrongPhase, models.PhaseSuggestion), f.send(2, "/vote 1"))

	status := f.send(3, "/status")
	assert.Contains(t, status, "Phase: suggestion")
	assert.Contains(t, status, "Suggestions: 1")
	assert.Contains(t, status, "1. Dune by Frank Herbert")

	members, err := f.store.ListGroupMembers(context.Background(), group)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestVotingCommands(t *testing.T) {
	f := newFixture(t)
	f.send(1, "/start_cycle")
	f.send(1, "/configure")
	for i, title := range []string{"Dune", "Emma", "Ulysses"} {
		f.send(int64(i+1), fmt.Sprintf("/suggest %s | Author %d", title, i))
	}

	f.send(1, "/phase voting")
	require.Len(t, f.posts.texts, 2)
	assert.True(t, strings.HasPrefix(f.posts.texts[1], "🗳"))

	assert.Equal(t, f.messages.VoteRecorded, f.send(1, "/vote 2 1 3"))
	assert.Equal(t, f.messages.AlreadyVoted, f.send(1, "/vote 1"))
	assert.Equal(t, f.messages.InvalidBallot, f.send(2, "/vote 1 1"))
	assert.Equal(t, f.messages.InvalidBallot, f.send(2, "/vote 9"))
	assert.Equal(t, f.messages.VoteUsage, f.send(2, "/vote"))

	assert.Equal(t, f.messages.CycleReset, f.send(1, "/reset"))
	assert.Contains(t, f.send(1, "/status"), "Voters: 0")
}

func TestUsageReplies(t *testing.T) {
	data := map[string]struct {
		text     string
		expected func(m *message.LocalizedMessages) string
	}{
		`configure with two numbers`: {
			text:     "/configure 1 2",
			expected: func(m *message.LocalizedMessages) string { return m.ConfigureUsage },
		},
		`suggest without author`: {
			text:     "/suggest Dune",
			expected: func(m *message.LocalizedMessages) string { return m.SuggestUsage },
		},
		`vote with words`: {
			text:     "/vote first",
			expected: func(m *message.LocalizedMessages) string { return m.VoteUsage },
		},
		`unknown phase`: {
			text:     "/phase nowhere",
			expected: func(m *message.LocalizedMessages) string { return m.PhaseUsage },
		},
		`pending phase`: {
			text:     "/phase pending",
			expected: func(m *message.LocalizedMessages) string { return m.PhaseUsage },
		},
		`status without cycle`: {
			text:     "/status",
			expected: func(m *message.LocalizedMessages) string { return m.NoActiveCycle },
		},
		`cancel without cycle`: {
			text:     "/cancel",
			expected: func(m *message.LocalizedMessages) string { return m.NoActiveCycle },
		},
		`help`: {
			text:     "/help",
			expected: func(m *message.LocalizedMessages) string { return m.HelpInfo },
		},
	}

	for name, tt := range data {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			assert.Equal(t, tt.expected(f.messages), f.send(1, tt.text))
		})
	}
}

func TestConfigureTwice(t *testing.T) {
	f := newFixture(t)
	f.send(1, "/start_cycle")
	f.send(1, "/configure")

	assert.Equal(t, f.messages.CycleAlreadyStarted, f.send(1, "/configure"))
}

func TestForcedPhaseBlocked(t *testing.T) {
	f := newFixture(t)
	f.send(1, "/start_cycle")
	f.send(1, "/configure")

	got := f.send(1, "/phase voting")

	assert.Equal(t, fmt.Sprintf(f.messages.BlockedNotEnoughSuggestions, scheduler.MinSuggestions, 0), got)
}

func TestPhaseTargets(t *testing.T) {
	f := newFixture(t)
	f.send(1, "/start_cycle")
	f.send(1, "/configure")

	assert.Equal(t, f.messages.PhaseUsage, f.send(1, "/phase reading"))
	assert.Equal(t, f.messages.CycleReset, f.send(1, "/phase suggestion"))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.send(1, "/start_cycle")

	assert.Equal(t, f.messages.CycleCancelled, f.send(1, "/cancel"))
	assert.Equal(t, f.messages.NoActiveCycle, f.send(1, "/status"))
}

func TestMemberTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: groupChat(),
		From: &tgbotapi.User{ID: 1},
		NewChatMembers: []tgbotapi.User{
			{ID: 10, FirstName: "Ann"},
			{ID: 11, FirstName: "Ben"},
			{ID: selfID, IsBot: true},
		},
	}})
	assert.Equal(t, f.messages.HelpInfo, f.api.last())

	members, err := f.store.ListGroupMembers(ctx, group)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	f.bot.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:           groupChat(),
		From:           &tgbotapi.User{ID: 11},
		LeftChatMember: &tgbotapi.User{ID: 11},
	}})
	members, err = f.store.ListGroupMembers(ctx, group)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(10), members[0].UserID)

	f.bot.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "back again",
		Chat: groupChat(),
		From: &tgbotapi.User{ID: 11, FirstName: "Ben"},
	}})
	members, err = f.store.ListGroupMembers(ctx, group)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestPrivateChatGetsHelp(t *testing.T) {
	f := newFixture(t)
	update := command(1, "/start_cycle")
	update.Message.Chat = &tgbotapi.Chat{ID: 1, Type: "private"}

	f.bot.handleUpdate(context.Background(), update)

	assert.Equal(t, f.messages.HelpInfo, f.api.last())
	_, err := f.store.GetActiveCycleByGroup(context.Background(), 1)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		f.bot.Run(ctx)
		close(done)
	}()

	f.api.updates <- command(1, "/help")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, f.messages.HelpInfo, f.api.last())
	assert.True(t, f.api.stopped)
}
