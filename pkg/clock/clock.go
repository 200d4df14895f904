// Package clock supplies the time used to name captured files.
package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Fixed always returns the same instant; it advances only through Add.
type Fixed struct {
	lock sync.Mutex
	t    time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.t
}

func (f *Fixed) Add(d time.Duration) {
	f.lock.Lock()
	f.t = f.t.Add(d)
	f.lock.Unlock()
}

// NTP corrects the system clock by the offset measured against an NTP server.
// Boards without an RTC boot with a wrong wall clock; file names use this one.
type NTP struct {
	server string
	logger *zap.SugaredLogger
	query  func(host string) (*ntp.Response, error)

	lock   sync.RWMutex
	offset time.Duration
}

func NewNTP(server string, logger *zap.SugaredLogger) *NTP {
	return &NTP{server: server, logger: logger, query: query}
}

func query(host string) (*ntp.Response, error) {
	resp, err := ntp.Query(host)
	if err != nil {
		return nil, err
	}
	if err = resp.Validate(); err != nil {
		return nil, err
	}

	return resp, nil
}

// Sync measures the offset once. On failure the previous offset is kept.
func (n *NTP) Sync() error {
	resp, err := n.query(n.server)
	if err != nil {
		n.logger.Warnf("clock: ntp query %s: %s", n.server, err)
		return err
	}
	n.lock.Lock()
	n.offset = resp.ClockOffset
	n.lock.Unlock()
	n.logger.Infof("clock: offset %s from %s", resp.ClockOffset, n.server)

	return nil
}

func (n *NTP) Offset() time.Duration {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.offset
}

func (n *NTP) Now() time.Time {
	return time.Now().Add(n.Offset())
}
