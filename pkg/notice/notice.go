// Package notice carries user-visible messages (the toasts of a handheld UI)
// to every connected client.
package notice

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type Level string

const (
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

type Notice struct {
	Time  time.Time `json:"t"`
	Level Level     `json:"l"`
	Msg   string    `json:"msg"`
}

func (n Notice) JSON() string {
	data, err := json.Marshal(n)
	if err != nil {
		return ""
	}
	return string(data)
}

// Broadcaster fans notices out to subscribers. Slow subscribers miss notices
// instead of blocking the sender.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan Notice]struct{}
	last    []Notice
	keep    int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan Notice]struct{}),
		keep:    32,
	}
}

// Subscribe returns a channel of notices and the func that detaches it.
func (b *Broadcaster) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *Broadcaster) Notify(level Level, msg string) {
	n := Notice{Time: time.Now(), Level: level, Msg: msg}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = append(b.last, n)
	if len(b.last) > b.keep {
		b.last = b.last[len(b.last)-b.keep:]
	}
	for ch := range b.clients {
		select {
		case ch <- n:
		default:
		}
	}
}

// Recent returns the latest notices, oldest first.
func (b *Broadcaster) Recent() []Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Notice(nil), b.last...)
}
