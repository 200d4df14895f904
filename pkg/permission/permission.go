// Package permission gates camera operations behind camera, microphone and
// storage-write permissions.
package permission

import (
	"strings"
)

type Permission string

const (
	Camera       Permission = "camera"
	Microphone   Permission = "microphone"
	StorageWrite Permission = "storage_write"
)

// All is the batch requested whenever any permission is missing.
var All = []Permission{Camera, Microphone, StorageWrite}

type Status int

const (
	Denied Status = iota
	Granted
)

func (s Status) String() string {
	if s == Granted {
		return "granted"
	}
	return "denied"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Result map[Permission]Status

func (r Result) Granted(p Permission) bool {
	return r[p] == Granted
}

// Service is the platform permission service: a side-effect-free check and an
// asynchronous batched request.
type Service interface {
	Check(p Permission) Status
	Request(ps []Permission, cb func(Result))
}

type Gate struct {
	svc Service
}

func NewGate(svc Service) *Gate {
	return &Gate{svc: svc}
}

func (g *Gate) Has(p Permission) bool {
	return g.svc.Check(p) == Granted
}

func (g *Gate) HasAllPermissions() bool {
	for _, p := range All {
		if !g.Has(p) {
			return false
		}
	}
	return true
}

// RequestPermissions issues one batched request for All; cb receives the result.
func (g *Gate) RequestPermissions(cb func(Result)) {
	g.svc.Request(All, cb)
}

func join(ps []Permission) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = string(p)
	}
	return strings.Join(s, ", ")
}
