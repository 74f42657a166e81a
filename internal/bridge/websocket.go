package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearlink/internal/relay"
)

// DefaultWriteTimeout bounds a single frame write to a client.
const DefaultWriteTimeout = 5 * time.Second

// Option configures a [Server].
type Option func(*Server)

// WithAudio includes device audio in the frames sent to clients. Off by
// default.
func WithAudio(on bool) Option {
	return func(s *Server) { s.audio = on }
}

// WithOriginPatterns sets the cross-origin hosts allowed to connect.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithWriteTimeout overrides [DefaultWriteTimeout].
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Server is the WebSocket bridge. It implements [http.Handler].
type Server struct {
	hub          *relay.Hub
	audio        bool
	origins      []string
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]time.Time
}

// NewServer returns a bridge over hub.
func NewServer(hub *relay.Hub, opts ...Option) *Server {
	s := &Server{
		hub:          hub,
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[string]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Clients returns the ids of connected clients, sorted.
func (s *Server) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ServeHTTP upgrades the request and serves the client until either side
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("bridge: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs, err := s.hub.Subscribe(ctx, relay.DeviceToServer)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	id := uuid.NewString()
	log := slog.With("client", id, "remote", r.RemoteAddr)
	s.mu.Lock()
	s.clients[id] = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
	}()
	log.Info("bridge: client connected")

	if err := s.write(ctx, conn, Frame{Type: FrameHello, Client: id, Time: time.Now()}); err != nil {
		log.Warn("bridge: hello failed", "err", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, conn, log) })
	g.Go(func() error { return s.writeLoop(gctx, conn, msgs) })
	err = g.Wait()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("bridge: client disconnected")
	case errors.Is(err, context.Canceled):
		log.Info("bridge: client dropped on shutdown")
	default:
		log.Warn("bridge: client connection ended", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop publishes every non-blank line of inbound text frames on the
// server→device channel. A frame may also be a JSON [Frame] of type text.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			log.Debug("bridge: ignoring binary frame", "bytes", len(data))
			continue
		}
		for _, line := range inboundLines(data) {
			if err := s.hub.PublishText(ctx, relay.ServerToDevice, line); err != nil {
				return err
			}
		}
	}
}

func inboundLines(data []byte) []string {
	text := string(data)
	var f Frame
	if json.Unmarshal(data, &f) == nil && f.Type == FrameText {
		text = f.Text
	}
	var out []string
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, msgs <-chan relay.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			if m.IsAudio() && !s.audio {
				continue
			}
			if err := s.write(ctx, conn, FrameFrom(m)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
