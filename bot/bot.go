// Package bot is the Telegram command surface of the book club. It turns
// group commands into club operations and keeps the member list current.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/club"
	"github.com/greg-py/Chapters-sub000/internal/models"
	"github.com/greg-py/Chapters-sub000/internal/scheduler"
	"github.com/greg-py/Chapters-sub000/message"
)

const commandTimeout = 15 * time.Second

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// MemberStore records who is in a group.
type MemberStore interface {
	SaveMember(ctx context.Context, member *models.Member) error
	ArchiveMember(ctx context.Context, groupID, userID int64) error
}

type memberKey struct {
	groupID int64
	userID  int64
}

type Bot struct {
	api                API
	selfID             int64
	club               *club.Service
	members            MemberStore
	messages           *message.LocalizedMessages
	log                *zap.Logger
	longPollingTimeout int

	mu   sync.Mutex
	seen map[memberKey]struct{}
}

func NewBot(api API, selfID int64, svc *club.Service, members MemberStore, messages *message.LocalizedMessages, logger *zap.Logger, longPollingTimeout int) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:                api,
		selfID:             selfID,
		club:               svc,
		members:            members,
		messages:           messages,
		log:                logger,
		longPollingTimeout: longPollingTimeout,
		seen:               make(map[memberKey]struct{}),
	}
}

// Run reads updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.longPollingTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		if msg.IsCommand() {
			b.sendMessage(msg.Chat.ID, b.messages.HelpInfo)
		}
		return
	}

	if msg.NewChatMembers != nil {
		b.handleJoined(ctx, msg)
		return
	}
	if msg.LeftChatMember != nil {
		b.handleLeft(ctx, msg)
		return
	}
	if msg.From == nil {
		return
	}
	b.trackMember(ctx, msg.Chat.ID, msg.From)
	if !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start_cycle":
		b.processCommand(msg, b.handleStartCycle(ctx, msg))
	case "configure":
		b.processCommand(msg, b.handleConfigure(ctx, msg))
	case "suggest":
		b.processCommand(msg, b.handleSuggest(ctx, msg))
	case "vote":
		b.processCommand(msg, b.handleVote(ctx, msg))
	case "status":
		b.processCommand(msg, b.handleStatus(ctx, msg))
	case "phase":
		b.processCommand(msg, b.handlePhase(ctx, msg))
	case "reset":
		b.processCommand(msg, b.handleReset(ctx, msg))
	case "cancel":
		b.processCommand(msg, b.handleCancel(ctx, msg))
	case "help", "start":
		b.sendMessage(msg.Chat.ID, b.messages.HelpInfo)
	}
}

func (b *Bot) handleJoined(ctx context.Context, msg *tgbotapi.Message) {
	for i := range msg.NewChatMembers {
		user := &msg.NewChatMembers[i]
		if user.ID == b.selfID {
			b.log.Info("bot added to group", zap.Int64("group_id", msg.Chat.ID))
			b.sendMessage(msg.Chat.ID, b.messages.HelpInfo)
			continue
		}
		b.forget(msg.Chat.ID, user.ID)
		b.trackMember(ctx, msg.Chat.ID, user)
	}
}

func (b *Bot) handleLeft(ctx context.Context, msg *tgbotapi.Message) {
	user := msg.LeftChatMember
	if user.ID == b.selfID {
		b.log.Info("bot removed from group", zap.Int64("group_id", msg.Chat.ID))
		return
	}
	b.forget(msg.Chat.ID, user.ID)
	if err := b.members.ArchiveMember(ctx, msg.Chat.ID, user.ID); err != nil {
		b.log.Warn("cannot archive member", zap.Int64("group_id", msg.Chat.ID), zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

// trackMember saves a member the first time it is seen since start or since
// its last join or leave.
func (b *Bot) trackMember(ctx context.Context, groupID int64, user *tgbotapi.User) {
	key := memberKey{groupID: groupID, userID: user.ID}
	b.mu.Lock()
	_, seen := b.seen[key]
	b.mu.Unlock()
	if seen {
		return
	}

	member := &models.Member{
		GroupID:   groupID,
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Nick:      user.UserName,
		IsBot:     user.IsBot,
		JoinedAt:  time.Now(),
	}
	if err := b.members.SaveMember(ctx, member); err != nil {
		b.log.Warn("cannot save member", zap.Int64("group_id", groupID), zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	b.mu.Lock()
	b.seen[key] = struct{}{}
	b.mu.Unlock()
}

func (b *Bot) forget(groupID, userID int64) {
	b.mu.Lock()
	delete(b.seen, memberKey{groupID: groupID, userID: userID})
	b.mu.Unlock()
}

func (b *Bot) handleStartCycle(ctx context.Context, msg *tgbotapi.Message) error {
	_, err := b.club.CreateCycle(ctx, msg.Chat.ID, msg.From.ID, strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		return err
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf(b.messages.CycleCreated, b.club.Unit()))
	return nil
}

// handleConfigure replies only on failure; the suggestion phase announcement
// is posted by the scheduler.
func (b *Bot) handleConfigure(ctx context.Context, msg *tgbotapi.Message) error {
	durations, err := parseDurations(msg.CommandArguments())
	if err != nil {
		b.sendMessage(msg.Chat.ID, b.messages.ConfigureUsage)
		return nil
	}
	_, err = b.club.Configure(ctx, msg.Chat.ID, durations)
	return err
}

func (b *Bot) handleSuggest(ctx context.Context, msg *tgbotapi.Message) error {
	in, err := parseSuggestion(msg.CommandArguments())
	if err != nil {
		b.sendMessage(msg.Chat.ID, b.messages.SuggestUsage)
		return nil
	}
	sug, err := b.club.Suggest(ctx, msg.Chat.ID, msg.From.ID, in)
	if err != nil {
		return err
	}
	b.log.Info("book suggested", zap.Int64("group_id", msg.Chat.ID), zap.Int64("user_id", msg.From.ID), zap.String("title", sug.Title))
	b.sendMessage(msg.Chat.ID, fmt.Sprintf(b.messages.SuggestionAdded, sug.Title, sug.Author))
	return nil
}

func (b *Bot) handleVote(ctx context.Context, msg *tgbotapi.Message) error {
	picks, err := parseBallot(msg.CommandArguments())
	if err != nil {
		b.sendMessage(msg.Chat.ID, b.messages.VoteUsage)
		return nil
	}
	if err := b.club.Vote(ctx, msg.Chat.ID, msg.From.ID, picks); err != nil {
		return err
	}
	b.sendMessage(msg.Chat.ID, b.messages.VoteRecorded)
	return nil
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) error {
	r, err := b.club.Status(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	b.sendMessage(msg.Chat.ID, b.statusText(r))
	return nil
}

func (b *Bot) statusText(r *club.Report) string {
	deadline := "-"
	if r.Cycle.Phase().Timed() {
		deadline = message.Deadline(r.Cycle.CurrentPhaseDeadline())
	}
	txt := fmt.Sprintf(b.messages.StatusReport, r.Cycle.Phase(), deadline, r.Stats.SuggestionCount, r.Stats.VoterCount)
	if r.SelectedBook != nil {
		txt += "\n" + fmt.Sprintf(b.messages.StatusSelectedBook, r.SelectedBook.Title, r.SelectedBook.Author)
	}
	if len(r.Suggestions) > 0 && r.Cycle.Phase() != models.PhaseReading && r.Cycle.Phase() != models.PhaseDiscussion {
		txt += "\n\n" + scheduler.SuggestionList(b.messages, r.Suggestions)
	}
	return txt
}

func (b *Bot) handlePhase(ctx context.Context, msg *tgbotapi.Message) error {
	target, err := models.ParsePhase(strings.ToLower(strings.TrimSpace(msg.CommandArguments())))
	if err != nil || target == models.PhasePending {
		b.sendMessage(msg.Chat.ID, b.messages.PhaseUsage)
		return nil
	}
	c, err := b.club.ForcePhase(ctx, msg.Chat.ID, target)
	if err != nil {
		return err
	}
	if target == models.PhaseSuggestion {
		b.sendMessage(msg.Chat.ID, b.messages.CycleReset)
		return nil
	}
	b.log.Info("phase forced by member",
		zap.Int64("group_id", msg.Chat.ID),
		zap.Int64("user_id", msg.From.ID),
		zap.String("phase", c.Phase().String()),
		zap.String("status", string(c.Status())))
	return nil
}

func (b *Bot) handleReset(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.club.ResetToSuggestion(ctx, msg.Chat.ID); err != nil {
		return err
	}
	b.sendMessage(msg.Chat.ID, b.messages.CycleReset)
	return nil
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.club.Cancel(ctx, msg.Chat.ID); err != nil {
		return err
	}
	b.sendMessage(msg.Chat.ID, b.messages.CycleCancelled)
	return nil
}

// sendMessage is a helper function that sends a message to a chat
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, truncateString(text, maxMessageLength))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("cannot send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// processCommand turns a handler error into a reply. Expected failures get
// their own text; anything else is logged and answered with SomethingWrong.
func (b *Bot) processCommand(msg *tgbotapi.Message, err error) {
	if err == nil {
		return
	}
	if txt, ok := b.replyFor(err); ok {
		b.sendMessage(msg.Chat.ID, txt)
		return
	}
	b.log.Error("command failed", zap.String("command", msg.Command()), zap.Int64("group_id", msg.Chat.ID), zap.Error(err))
	b.sendMessage(msg.Chat.ID, b.messages.SomethingWrong)
}

func (b *Bot) replyFor(err error) (string, bool) {
	var blocked *club.BlockedError
	var wrong *club.WrongPhaseError
	switch {
	case errors.As(err, &blocked):
		return blocked.Text, true
	case errors.As(err, &wrong):
		return fmt.Sprintf(b.messages.WrongPhase, wrong.Phase), true
	case errors.Is(err, club.ErrNoActiveCycle):
		return b.messages.NoActiveCycle, true
	case errors.Is(err, club.ErrActiveCycleExists):
		return b.messages.CycleAlreadyActive, true
	case errors.Is(err, club.ErrAlreadyConfigured):
		return b.messages.CycleAlreadyStarted, true
	case errors.Is(err, club.ErrInvalidDurations):
		return b.messages.ConfigureUsage, true
	case errors.Is(err, club.ErrInvalidSuggestion):
		return b.messages.SuggestUsage, true
	case errors.Is(err, club.ErrDuplicateSuggestion):
		return b.messages.BookAlreadyProposed, true
	case errors.Is(err, club.ErrAlreadyVoted):
		return b.messages.AlreadyVoted, true
	case errors.Is(err, club.ErrInvalidBallot):
		return b.messages.InvalidBallot, true
	case errors.Is(err, club.ErrInvalidTarget):
		return b.messages.PhaseUsage, true
	}
	return "", false
}
