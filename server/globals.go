package server

import "sync/atomic"

// StatusState is the current build status line shown by the dev UI.
type StatusState struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError"`
}

type globalsSnapshot struct {
	version int
	status  *StatusState
}

// ServerGlobals is the process-wide dev-mode state written by the build
// watcher and read by the status feed. Readers get an immutable
// snapshot; writers swap in a new one atomically, so no locking is
// needed on either side.
type ServerGlobals struct {
	snap atomic.Pointer[globalsSnapshot]
}

func NewServerGlobals() *ServerGlobals {
	g := &ServerGlobals{}
	g.snap.Store(&globalsSnapshot{})
	return g
}

func (g *ServerGlobals) Version() int {
	return g.snap.Load().version
}

// Status returns the current status, or nil when none is set.
func (g *ServerGlobals) Status() *StatusState {
	return g.snap.Load().status
}

// IncVersion bumps the version counter and returns the new value.
func (g *ServerGlobals) IncVersion() int {
	for {
		old := g.snap.Load()
		next := &globalsSnapshot{version: old.version + 1, status: old.status}
		if g.snap.CompareAndSwap(old, next) {
			return next.version
		}
	}
}

func (g *ServerGlobals) SetStatus(text string, isError bool) {
	for {
		old := g.snap.Load()
		next := &globalsSnapshot{version: old.version, status: &StatusState{Text: text, IsError: isError}}
		if g.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

func (g *ServerGlobals) ClearStatus() {
	for {
		old := g.snap.Load()
		next := &globalsSnapshot{version: old.version}
		if g.snap.CompareAndSwap(old, next) {
			return
		}
	}
}
