package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/models"
)

// MemberStore lists the members the bot has seen in a group.
type MemberStore interface {
	ListGroupMembers(ctx context.Context, groupID int64) ([]models.Member, error)
}

// BotChecker classifies accounts.
type BotChecker interface {
	IsBotUser(ctx context.Context, chatID, userID int64) (bool, error)
}

// Directory answers membership questions from the tracked members. Telegram
// cannot enumerate group members, so the list only holds users the bot has
// seen join or write; it is not paginated.
//
// The bot flag recorded with each member is authoritative. The checker is
// asked only about users the store does not know.
type Directory struct {
	members MemberStore
	checker BotChecker

	mu    sync.Mutex
	known map[int64]map[int64]bool // group -> user -> is bot
}

func NewDirectory(members MemberStore, checker BotChecker) *Directory {
	return &Directory{members: members, checker: checker, known: make(map[int64]map[int64]bool)}
}

func (d *Directory) ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	members, err := d.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (d *Directory) IsBotUser(ctx context.Context, groupID, userID int64) (bool, error) {
	if isBot, ok := d.lookup(groupID, userID); ok {
		return isBot, nil
	}
	if _, err := d.load(ctx, groupID); err != nil {
		return false, err
	}
	if isBot, ok := d.lookup(groupID, userID); ok {
		return isBot, nil
	}
	return d.checker.IsBotUser(ctx, groupID, userID)
}

// load reads the stored members of groupID and refreshes the bot flags.
func (d *Directory) load(ctx context.Context, groupID int64) ([]models.Member, error) {
	members, err := d.members.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	flags := make(map[int64]bool, len(members))
	for _, m := range members {
		flags[m.UserID] = m.IsBot
	}
	d.mu.Lock()
	d.known[groupID] = flags
	d.mu.Unlock()
	return members, nil
}

func (d *Directory) lookup(groupID, userID int64) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	isBot, ok := d.known[groupID][userID]
	return isBot, ok
}

// Log writes messages to the logger instead of a chat. It stands in for
// Telegram when no bot token is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{log: logger}
}

func (l *Log) PostMessage(_ context.Context, chatID int64, text string) error {
	l.log.Info("group message", zap.Int64("chat_id", chatID), zap.String("text", text))
	return nil
}

// IsBotUser reports every account as human.
func (l *Log) IsBotUser(context.Context, int64, int64) (bool, error) {
	return false, nil
}
