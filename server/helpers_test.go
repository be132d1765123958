package server

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// testLogger returns a logger that stays quiet during tests.
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeBundle is a scriptable Bundle for tests. Stream events are
// recorded in arrival order.
type fakeBundle struct {
	handle     func(ctx context.Context, path string, req *Request) (*Response, error)
	onStream   func(ctx context.Context, stream Stream, ev StreamEvent) error
	numStreams int

	mu     sync.Mutex
	events []StreamEvent
}

func (b *fakeBundle) Handle(ctx context.Context, path string, req *Request) (*Response, error) {
	if b.handle == nil {
		return nil, nil
	}
	return b.handle(ctx, path, req)
}

func (b *fakeBundle) HandleStream(ctx context.Context, stream Stream, ev StreamEvent) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()

	if b.onStream == nil {
		return nil
	}
	return b.onStream(ctx, stream, ev)
}

func (b *fakeBundle) NumStreams() int {
	return b.numStreams
}

func (b *fakeBundle) recordedEvents() []StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := make([]StreamEvent, len(b.events))
	copy(events, b.events)
	return events
}

// fakeTrace is an error with synthetic stack frames, for exercising
// trace truncation without depending on real call sites.
type fakeTrace struct {
	msg    string
	frames []Frame
	cause  error
}

func (e *fakeTrace) Error() string   { return e.msg }
func (e *fakeTrace) Frames() []Frame { return e.frames }
func (e *fakeTrace) Unwrap() error   { return e.cause }
