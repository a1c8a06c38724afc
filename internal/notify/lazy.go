package notify

import (
	"context"
	"sync"
)

// Lazy builds the Telegram client on first use and reuses it afterwards. A
// failed build is retried on the next call.
type Lazy struct {
	mu    sync.Mutex
	build func() (*Telegram, error)
	tg    *Telegram
}

func NewLazy(build func() (*Telegram, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) get() (*Telegram, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tg != nil {
		return l.tg, nil
	}
	tg, err := l.build()
	if err != nil {
		return nil, err
	}
	l.tg = tg
	return tg, nil
}

func (l *Lazy) PostMessage(ctx context.Context, chatID int64, text string) error {
	tg, err := l.get()
	if err != nil {
		return err
	}
	return tg.PostMessage(ctx, chatID, text)
}

func (l *Lazy) IsBotUser(ctx context.Context, chatID, userID int64) (bool, error) {
	tg, err := l.get()
	if err != nil {
		return false, err
	}
	return tg.IsBotUser(ctx, chatID, userID)
}
