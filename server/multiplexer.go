package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StreamMultiplexer owns the single websocket endpoint all stream
// routes share. It decodes inbound frames, drives the per-route
// subscribe state machine, and hands the bundle a Stream handle for
// send / broadcast / disconnect.
type StreamMultiplexer struct {
	registry *StreamRegistry
	bundle   Bundle
	env      ServerEnvironment
	stop     FramePredicate
	cfg      StreamingConfig
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewStreamMultiplexer(registry *StreamRegistry, bundle Bundle, env ServerEnvironment, stop FramePredicate, cfg StreamingConfig, log logrus.FieldLogger) *StreamMultiplexer {
	return &StreamMultiplexer{
		registry: registry,
		bundle:   bundle,
		env:      env,
		stop:     stop,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Register installs the websocket endpoint at {prefix}/api/kobweb-streams.
func (m *StreamMultiplexer) Register(mux *http.ServeMux, prefixer RoutePrefixer) {
	mux.HandleFunc("GET "+prefixer.Join("api/kobweb-streams"), m.serve)
}

func (m *StreamMultiplexer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Errorf("[streams] upgrade error: %v", err)
		return
	}

	sess := m.registry.register(conn)
	log := m.log.WithField("client", sess.clientID)
	log.Debug("[streams] session opened")

	done := make(chan struct{})
	if m.cfg.PingPeriod > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.cfg.Timeout))
		})
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.Timeout))
		go m.keepalive(sess, done)
	}

	m.receiveLoop(r.Context(), sess, log)

	// Cleanup runs for every exit: clean close, I/O error, or
	// cancellation. Each still-subscribed route gets a synthesized
	// disconnect event before the session disappears.
	close(done)
	sess.markClosed()
	for _, route := range sess.routeSnapshot() {
		sess.unsubscribe(route)
		m.deliver(context.Background(), sess, StreamEvent{
			Kind:     StreamClientDisconnected,
			Route:    route,
			ClientID: sess.clientID,
		})
	}
	m.registry.unregister(sess)
	_ = conn.Close()
	log.Debug("[streams] session closed")
}

func (m *StreamMultiplexer) receiveLoop(ctx context.Context, sess *streamSession, log *logrus.Entry) {
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			// A clean close is ordinary termination; everything else
			// gets an error log. Both exit into the cleanup path.
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) || errors.Is(err, context.Canceled) {
				log.Tracef("[streams] receive loop ended: %v", err)
			} else {
				log.Errorf("[streams] receive loop failed: %v", err)
			}
			return
		}

		// Only text frames carry stream messages.
		if msgType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Errorf("[streams] dropping malformed frame: %v", err)
			continue
		}

		m.handleFrame(ctx, sess, msg, log)
	}
}

func (m *StreamMultiplexer) handleFrame(ctx context.Context, sess *streamSession, msg clientMessage, log *logrus.Entry) {
	route := msg.Route

	switch msg.Payload.Kind {
	case payloadConnect:
		if !sess.subscribe(route) {
			log.Warnf("[streams] duplicate connect for %q ignored", route)
			return
		}
		m.deliver(ctx, sess, StreamEvent{
			Kind:     StreamClientConnected,
			Route:    route,
			ClientID: sess.clientID,
		})

	case payloadText:
		if !sess.subscribed(route) {
			log.Warnf("[streams] text for unsubscribed route %q ignored", route)
			return
		}
		m.deliver(ctx, sess, StreamEvent{
			Kind:     StreamText,
			Route:    route,
			ClientID: sess.clientID,
			Text:     msg.Payload.Text,
		})

	case payloadDisconnect:
		if !sess.subscribed(route) {
			log.Warnf("[streams] disconnect for unsubscribed route %q ignored", route)
			return
		}
		m.dropRoute(ctx, sess, route)
	}
}

// dropRoute delivers the disconnect event, removes the route, and
// closes the websocket once the session subscribes to nothing. Shared
// by the Disconnect payload and the Stream handle's Disconnect.
func (m *StreamMultiplexer) dropRoute(ctx context.Context, sess *streamSession, route string) {
	if !sess.subscribed(route) {
		return
	}
	m.deliver(ctx, sess, StreamEvent{
		Kind:     StreamClientDisconnected,
		Route:    route,
		ClientID: sess.clientID,
	})
	sess.unsubscribe(route)
	if sess.routeCount() == 0 {
		sess.closeConn()
	}
}

// deliver hands one event to the bundle. A failing handler is logged,
// reported to the originating session as a ServerError frame (with a
// truncated callstack in dev), and dropped from the route.
func (m *StreamMultiplexer) deliver(ctx context.Context, sess *streamSession, ev StreamEvent) {
	handle := &streamHandle{mux: m, sess: sess, route: ev.Route}

	err := invokeStreamBundle(ctx, m.bundle, handle, ev)
	if err == nil {
		return
	}

	m.log.WithFields(logrus.Fields{
		"route":   ev.Route,
		"client":  ev.ClientID,
		"event":   ev.Kind.String(),
		"payload": ev.Text,
	}).Errorf("[streams] handler failed: %+v", err)

	var callstack *string
	if m.env == EnvDev {
		trace := TruncateTrace(err, m.stop)
		callstack = &trace
	}
	if frame, encErr := encodeErrorFrame(ev.Route, callstack); encErr == nil {
		_ = sess.writeFrame(frame, m.cfg.Timeout)
	}

	// Don't recurse into deliver if the disconnect event itself failed.
	if ev.Kind == StreamClientDisconnected {
		return
	}
	_ = handle.Disconnect()
}

func (m *StreamMultiplexer) keepalive(sess *streamSession, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(m.cfg.Timeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.closeConn()
				return
			}
		case <-done:
			return
		}
	}
}

var errSessionClosed = errors.New("stream session closed")

func (s *streamSession) writeFrame(frame []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *streamSession) markClosed() {
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()
}

func (s *streamSession) closeConn() {
	s.markClosed()
	_ = s.conn.Close()
}

// streamHandle implements Stream for one (session, route) pair.
type streamHandle struct {
	mux   *StreamMultiplexer
	sess  *streamSession
	route string
}

func (h *streamHandle) ClientID() int64 {
	return h.sess.clientID
}

func (h *streamHandle) Route() string {
	return h.route
}

func (h *streamHandle) Send(text string) error {
	frame, err := encodeTextFrame(h.route, text)
	if err != nil {
		return err
	}
	return h.sess.writeFrame(frame, h.mux.cfg.Timeout)
}

// Broadcast visits a snapshot of the registry; sessions registered or
// removed mid-call may or may not be observed.
func (h *streamHandle) Broadcast(text string, filter func(clientID int64) bool) error {
	frame, err := encodeTextFrame(h.route, text)
	if err != nil {
		return err
	}
	for _, other := range h.mux.registry.snapshot() {
		if !other.subscribed(h.route) {
			continue
		}
		if filter != nil && !filter(other.clientID) {
			continue
		}
		_ = other.writeFrame(frame, h.mux.cfg.Timeout)
	}
	return nil
}

func (h *streamHandle) Disconnect() error {
	h.mux.dropRoute(context.Background(), h.sess, h.route)
	return nil
}
