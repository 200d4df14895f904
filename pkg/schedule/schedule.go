// Package schedule takes photos at a fixed interval.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const MinInterval = time.Second

type Capturer interface {
	CapturePhoto()
}

type Scheduler struct {
	t        *time.Ticker
	capturer Capturer
	logger   *zap.SugaredLogger
	min      time.Duration

	lock     sync.Mutex
	interval time.Duration
	shots    int
}

func New(ctx context.Context, capturer Capturer, logger *zap.SugaredLogger) *Scheduler {
	t := time.NewTicker(time.Second)
	t.Stop()

	s := &Scheduler{
		t:        t,
		capturer: capturer,
		logger:   logger,
		min:      MinInterval,
	}
	s.startDeal(ctx)

	return s
}

// Begin starts, or restarts, interval shooting.
func (s *Scheduler) Begin(interval time.Duration) error {
	if interval < s.min {
		return fmt.Errorf("interval %s is shorter than %s", interval, s.min)
	}
	s.lock.Lock()
	s.interval = interval
	s.shots = 0
	s.lock.Unlock()
	s.t.Reset(interval)
	s.logger.Infof("scheduler: shooting every %s", interval)

	return nil
}

func (s *Scheduler) Stop() {
	s.t.Stop()
	s.lock.Lock()
	s.interval = 0
	s.lock.Unlock()
	s.logger.Info("scheduler: stopped")
}

// Interval returns the active interval, zero when stopped, and the shots
// taken since Begin.
func (s *Scheduler) Interval() (time.Duration, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.interval, s.shots
}

func (s *Scheduler) startDeal(ctx context.Context) {
	go func(s *Scheduler) {
		for {
			select {
			case start := <-s.t.C:
				s.lock.Lock()
				if s.interval == 0 {
					s.lock.Unlock()
					s.logger.Warn("scheduler: tick while stopped")
					continue
				}
				s.shots++
				s.lock.Unlock()
				s.logger.Debugf("scheduler: shooting at %v", start)
				s.capturer.CapturePhoto()
			case <-ctx.Done():
				s.t.Stop()
				s.logger.Info("scheduler: stopped!")
				return
			}
		}
	}(s)
}
