package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 500
	// maxIdleAge is the duration after which an idle chat entry is eligible for cleanup.
	maxIdleAge = 10 * time.Minute
)

type chatEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ChatRateLimiter keeps one token bucket per chat and prunes stale entries inline.
type ChatRateLimiter struct {
	chats map[int64]*chatEntry
	mu    sync.Mutex
	r     rate.Limit
	b     int
}

// NewChatRateLimiter allows perMinute messages per chat with bursts of burst.
func NewChatRateLimiter(perMinute, burst int) *ChatRateLimiter {
	r := rate.Inf
	if perMinute > 0 {
		r = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	return &ChatRateLimiter{
		chats: make(map[int64]*chatEntry),
		r:     r,
		b:     burst,
	}
}

// GetLimiter returns the limiter of chatID.
func (l *ChatRateLimiter) GetLimiter(chatID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.chats) > cleanupThreshold {
		cutoff := time.Now().Add(-maxIdleAge)
		for k, e := range l.chats {
			if e.lastSeen.Before(cutoff) {
				delete(l.chats, k)
			}
		}
	}

	e, exists := l.chats[chatID]
	if !exists {
		e = &chatEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.chats[chatID] = e
	}
	e.lastSeen = time.Now()

	return e.limiter
}

// Wait blocks until chatID may receive another message or ctx ends.
func (l *ChatRateLimiter) Wait(ctx context.Context, chatID int64) error {
	return l.GetLimiter(chatID).Wait(ctx)
}
