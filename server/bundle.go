package server

import (
	"context"
	"fmt"
	"os"
	"plugin"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StreamEventKind tags the events delivered to the bundle's stream
// handler.
type StreamEventKind int

const (
	StreamClientConnected StreamEventKind = iota
	StreamClientDisconnected
	StreamText
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamClientConnected:
		return "ClientConnected"
	case StreamClientDisconnected:
		return "ClientDisconnected"
	case StreamText:
		return "Text"
	default:
		return fmt.Sprintf("StreamEventKind(%d)", int(k))
	}
}

// StreamEvent is one event on a logical stream route: a client
// connecting to it, sending text on it, or disconnecting from it.
type StreamEvent struct {
	Kind     StreamEventKind
	Route    string
	ClientID int64
	Text     string
}

// Stream is the per-(session, route) handle exposed to the bundle while
// it processes a stream event.
type Stream interface {
	// ClientID is the stable id of the session the event arrived on.
	ClientID() int64
	// Route is the logical stream the event belongs to.
	Route() string
	// Send transmits text on this session only.
	Send(text string) error
	// Broadcast transmits text to every session subscribed to this
	// route whose client id passes filter. A nil filter sends to all.
	Broadcast(text string, filter func(clientID int64) bool) error
	// Disconnect removes this route from the session and closes the
	// websocket once no routes remain.
	Disconnect() error
}

// Bundle is the externally supplied code module providing API and
// stream handlers. Handle returning (nil, nil) means the bundle has no
// handler for the path. Implementations must be safe for concurrent
// use.
type Bundle interface {
	Handle(ctx context.Context, path string, req *Request) (*Response, error)
	HandleStream(ctx context.Context, stream Stream, ev StreamEvent) error
	NumStreams() int
}

// LoadedBundle pairs a bundle with the frame predicate its loader
// supplies for trace truncation.
type LoadedBundle struct {
	Bundle      Bundle
	FrameFilter FramePredicate
}

// bundleConstructor is the symbol a bundle plugin must export as
// "NewBundle". It receives the configured native library mappings.
type bundleConstructor = func(libraries map[string]string) (Bundle, error)

// LoadBundle opens the API bundle at path. An empty path means the site
// declares no bundle. A configured path whose file is absent is a
// warning, not an error: the server runs without an API surface.
func LoadBundle(path string, libraries map[string]string, log logrus.FieldLogger) (*LoadedBundle, error) {
	if path == "" {
		return nil, nil
	}

	if _, err := os.Stat(path); err != nil {
		log.Warnf("[bundle] configured bundle %q not found, continuing without APIs: %v", path, err)
		return nil, nil
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open bundle %q", path)
	}

	sym, err := p.Lookup("NewBundle")
	if err != nil {
		return nil, errors.Wrapf(err, "bundle %q does not export NewBundle", path)
	}
	construct, ok := sym.(bundleConstructor)
	if !ok {
		return nil, errors.Errorf("bundle %q exports NewBundle with wrong signature %T", path, sym)
	}

	bundle, err := construct(libraries)
	if err != nil {
		return nil, errors.Wrapf(err, "bundle %q failed to initialize", path)
	}

	loaded := &LoadedBundle{Bundle: bundle}

	// Optional: the bundle may tell us where its generated dispatch
	// frames begin so error traces can stop at user code.
	if filterSym, err := p.Lookup("FrameFilter"); err == nil {
		if filter, ok := filterSym.(func(Frame) bool); ok {
			loaded.FrameFilter = filter
		}
	}

	return loaded, nil
}

// invokeBundle calls the bundle's API handler, converting a panic into
// an error so a misbehaving handler can't take down the server.
func invokeBundle(ctx context.Context, bundle Bundle, path string, req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("bundle panic handling %s: %v", path, r)
		}
	}()
	return bundle.Handle(ctx, path, req)
}

// invokeStreamBundle is invokeBundle's analog for stream events.
func invokeStreamBundle(ctx context.Context, bundle Bundle, stream Stream, ev StreamEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("bundle panic handling %s on %q: %v", ev.Kind, ev.Route, r)
		}
	}()
	return bundle.HandleStream(ctx, stream, ev)
}
