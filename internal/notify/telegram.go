// Package notify delivers group messages through Telegram and answers
// membership questions for the scheduler.
package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxMessageLength is the Telegram limit for one text message.
const maxMessageLength = 4096

// API is the part of *tgbotapi.BotAPI used here.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Telegram posts plain-text messages to chats, throttled per chat.
type Telegram struct {
	api     API
	limiter *ChatRateLimiter
	log     *zap.Logger
}

func NewTelegram(api API, limiter *ChatRateLimiter, logger *zap.Logger) *Telegram {
	if limiter == nil {
		limiter = NewChatRateLimiter(0, 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{api: api, limiter: limiter, log: logger}
}

func (t *Telegram) PostMessage(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return fmt.Errorf("rate limit for chat %d: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(chatID, truncateString(text, maxMessageLength))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	t.log.Debug("message sent", zap.Int64("chat_id", chatID))
	return nil
}

// IsBotUser asks Telegram whether userID is a bot account. The call shares
// the chat's rate limit with outgoing messages.
func (t *Telegram) IsBotUser(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return false, fmt.Errorf("rate limit for chat %d: %w", chatID, err)
	}
	member, err := t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return false, fmt.Errorf("get chat member %d of chat %d: %w", userID, chatID, err)
	}
	return member.User != nil && member.User.IsBot, nil
}

func truncateString(input string, limit int) string {
	if utf8.RuneCountInString(input) <= limit {
		return input
	}
	runes := []rune(input)
	return string(runes[:limit])
}
