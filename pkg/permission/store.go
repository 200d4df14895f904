package permission

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"pocket-shutter/pkg/notice"
)

// Prober reports whether the OS lets the process use what p stands for.
type Prober func(p Permission) error

type Notifier interface {
	Notify(level notice.Level, msg string)
}

type Options struct {
	// Path persists operator decisions; empty keeps them in memory.
	Path string
	// AutoGrant answers every request with a grant, for unattended boxes.
	AutoGrant bool
	Probe     Prober
	Notifier  Notifier
}

type request struct {
	perms []Permission
	cb    func(Result)
}

// Store is an operator-mediated permission service. A request publishes a
// prompt notice and stays pending until Resolve answers it.
type Store struct {
	opts   Options
	logger *zap.SugaredLogger

	lock    sync.Mutex
	grants  map[Permission]bool
	pending []request
}

func NewStore(opts Options, logger *zap.SugaredLogger) (*Store, error) {
	s := &Store{opts: opts, logger: logger, grants: make(map[Permission]bool)}
	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) Check(p Permission) Status {
	s.lock.Lock()
	granted := s.grants[p]
	s.lock.Unlock()

	return s.status(p, granted)
}

func (s *Store) status(p Permission, granted bool) Status {
	if !granted {
		return Denied
	}
	if s.opts.Probe != nil {
		if err := s.opts.Probe(p); err != nil {
			s.logger.Debugf("permission: %s granted but not accessible: %s", p, err)
			return Denied
		}
	}
	return Granted
}

func (s *Store) Request(ps []Permission, cb func(Result)) {
	if s.opts.AutoGrant {
		s.lock.Lock()
		for _, p := range ps {
			s.grants[p] = true
		}
		err := s.dump()
		s.lock.Unlock()
		if err != nil {
			s.logger.Warnf("permission: persist grants: %s", err)
		}
		s.deliver([]request{{perms: ps, cb: cb}})
		return
	}

	s.lock.Lock()
	first := len(s.pending) == 0
	s.pending = append(s.pending, request{perms: slices.Clone(ps), cb: cb})
	s.lock.Unlock()

	if first {
		msg := fmt.Sprintf("Permission required: %s", join(ps))
		s.logger.Info("permission: " + msg)
		if s.opts.Notifier != nil {
			s.opts.Notifier.Notify(notice.Warn, msg)
		}
	}
}

// Resolve records the operator's answer: the listed permissions are granted,
// every other permission of a pending request is denied. All pending requests
// are answered.
func (s *Store) Resolve(granted []Permission) error {
	s.lock.Lock()
	pending := s.pending
	s.pending = nil
	for _, req := range pending {
		for _, p := range req.perms {
			s.grants[p] = false
		}
	}
	for _, p := range granted {
		s.grants[p] = true
	}
	err := s.dump()
	s.lock.Unlock()

	s.deliver(pending)

	return err
}

func (s *Store) Revoke(p Permission) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.grants, p)
	return s.dump()
}

// Pending returns the permissions awaiting an answer.
func (s *Store) Pending() []Permission {
	s.lock.Lock()
	defer s.lock.Unlock()
	var res []Permission
	for _, req := range s.pending {
		for _, p := range req.perms {
			if !slices.Contains(res, p) {
				res = append(res, p)
			}
		}
	}
	return res
}

// Snapshot reports the effective status of every permission.
func (s *Store) Snapshot() Result {
	res := make(Result, len(All))
	for _, p := range All {
		res[p] = s.Check(p)
	}
	return res
}

func (s *Store) deliver(reqs []request) {
	for _, req := range reqs {
		if req.cb == nil {
			continue
		}
		res := make(Result, len(req.perms))
		for _, p := range req.perms {
			res[p] = s.Check(p)
		}
		go req.cb(res)
	}
}

func (s *Store) load() error {
	if s.opts.Path == "" {
		return nil
	}
	data, err := os.ReadFile(s.opts.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read permissions: %w", err)
	}
	if err = json.Unmarshal(data, &s.grants); err != nil {
		return fmt.Errorf("unmarshal permissions: %w", err)
	}
	if s.grants == nil {
		s.grants = make(map[Permission]bool)
	}

	return nil
}

// dump must be called with lock held.
func (s *Store) dump() error {
	if s.opts.Path == "" {
		return nil
	}
	data, err := json.Marshal(s.grants)
	if err != nil {
		return err
	}

	return os.WriteFile(s.opts.Path, data, 0600)
}
