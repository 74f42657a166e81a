// Package api serves the JSON control API: one endpoint per coordinator
// command plus GET /state. Health probes, /metrics and the WebSocket bridge
// are mounted on the same listener.
//
//	GET  /state
//	POST /device/connect      {"host": "...", "port": "..."}
//	POST /device/disconnect
//	POST /device/vibrate      {"level": 0-10}
//	POST /device/command      {"text": "..."}
//	POST /server/connect      {"host": "...", "port": "..."}
//	POST /server/disconnect
//	POST /server/send         {"text": "..."}
//	POST /recording/start
//	POST /recording/stop
//	POST /link/connect        {"address": "..."}
//	POST /link/disconnect
//
// Errors are returned as {"error": "..."} with 400 for invalid input and
// 409 when the peer is not in a state to accept the command.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/hearlink/internal/app"
	"github.com/MrWong99/hearlink/internal/health"
	"github.com/MrWong99/hearlink/internal/link"
	"github.com/MrWong99/hearlink/internal/observe"
	"github.com/MrWong99/hearlink/internal/recording"
	"github.com/MrWong99/hearlink/internal/session"
)

// maxBody bounds request bodies.
const maxBody = 64 << 10

// Controller is the command surface the API drives. [app.Coordinator]
// implements it.
type Controller interface {
	ConnectDevice(ctx context.Context, host, port string) error
	DisconnectDevice()
	SendVibration(level int) error
	SendCommand(text string) error
	ConnectServer(ctx context.Context, host, port string) error
	DisconnectServer()
	SendToServer(text string) error
	StartRecording() error
	StopRecording(ctx context.Context) (*recording.Result, error)
	ConnectLink(ctx context.Context, address string) error
	DisconnectLink()
	Snapshot() app.Snapshot
}

var _ Controller = (*app.Coordinator)(nil)

// Server routes control requests to a [Controller].
type Server struct {
	ctl        Controller
	metrics    *observe.Metrics
	health     *health.Handler
	scrape     http.Handler
	bridge     http.Handler
	bridgePath string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records request latency with m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithBridge mounts the WebSocket bridge at path. It bypasses the request
// middleware so the connection can be hijacked.
func WithBridge(path string, h http.Handler) Option {
	return func(s *Server) { s.bridge, s.bridgePath = h, path }
}

// New creates a [Server] for ctl.
func New(ctl Controller, opts ...Option) *Server {
	s := &Server{ctl: ctl}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /device/connect", s.handleDeviceConnect)
	mux.HandleFunc("POST /device/disconnect", s.handleDeviceDisconnect)
	mux.HandleFunc("POST /device/vibrate", s.handleVibrate)
	mux.HandleFunc("POST /device/command", s.handleCommand)
	mux.HandleFunc("POST /server/connect", s.handleServerConnect)
	mux.HandleFunc("POST /server/disconnect", s.handleServerDisconnect)
	mux.HandleFunc("POST /server/send", s.handleServerSend)
	mux.HandleFunc("POST /recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /link/connect", s.handleLinkConnect)
	mux.HandleFunc("POST /link/disconnect", s.handleLinkDisconnect)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}

	root := http.NewServeMux()
	root.Handle("/", observe.Middleware(s.metrics)(mux))
	if s.bridge != nil && s.bridgePath != "" {
		root.Handle(s.bridgePath, s.bridge)
	}
	return root
}

// ─── Requests ────────────────────────────────────────────────────────────────

type endpointRequest struct {
	Host string `json:"host"`
	Port string `json:"port"`
}

type textRequest struct {
	Text string `json:"text"`
}

type vibrateRequest struct {
	Level *int `json:"level"`
}

type linkRequest struct {
	Address string `json:"address"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStateView(s.ctl.Snapshot()))
}

func (s *Server) handleDeviceConnect(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, r, s.ctl.ConnectDevice(r.Context(), req.Host, req.Port))
}

func (s *Server) handleDeviceDisconnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.DisconnectDevice()
	s.reply(w, r, nil)
}

func (s *Server) handleVibrate(w http.ResponseWriter, r *http.Request) {
	var req vibrateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Level == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "level is required"})
		return
	}
	s.reply(w, r, s.ctl.SendVibration(*req.Level))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, r, s.ctl.SendCommand(req.Text))
}

func (s *Server) handleServerConnect(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, r, s.ctl.ConnectServer(r.Context(), req.Host, req.Port))
}

func (s *Server) handleServerDisconnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.DisconnectServer()
	s.reply(w, r, nil)
}

func (s *Server) handleServerSend(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, r, s.ctl.SendToServer(req.Text))
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.reply(w, r, s.ctl.StartRecording())
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctl.StopRecording(r.Context())
	if err != nil {
		s.reply(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{"recording": false})
		return
	}
	writeJSON(w, http.StatusOK, recordingView{
		Name:       res.Name,
		Handle:     string(res.Handle),
		Bytes:      res.Bytes,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func (s *Server) handleLinkConnect(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, r, s.ctl.ConnectLink(r.Context(), req.Address))
}

func (s *Server) handleLinkDisconnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.DisconnectLink()
	s.reply(w, r, nil)
}

// reply writes the state after a successful command, or the mapped error.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		code := statusFor(err)
		if code == http.StatusBadGateway {
			observe.Logger(r.Context()).Warn("api: command failed", "path", r.URL.Path, "err", err)
		}
		writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newStateView(s.ctl.Snapshot()))
}

// statusFor maps command errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidEndpoint),
		errors.Is(err, link.ErrInvalidAddress),
		errors.Is(err, app.ErrInvalidVibration),
		errors.Is(err, app.ErrEmptyCommand):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, recording.ErrDeviceNotConnected),
		errors.Is(err, recording.ErrAlreadyRecording),
		errors.Is(err, recording.ErrNothingRecorded):
		return http.StatusConflict
	default:
		// Dial failures land here: the session is Failed and the reason is
		// visible in GET /state.
		return http.StatusBadGateway
	}
}

// decode reads an optional JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}
