// Package control is the HTTP surface that starts and stops fill runs,
// replacing the extension popup's message relay: the same actions, the same
// acknowledgement shape.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/driver"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Runner is the slice of the driver the server needs.
type Runner interface {
	Start(ctx context.Context, p driver.Payload) error
	Stop()
	Running() bool
}

var _ Runner = (*driver.Driver)(nil)

// Actions on the command endpoint.
const (
	ActionStart = "startFilling"
	ActionStop  = "stopFilling"
)

type commandRequest struct {
	Action string              `json:"action"`
	Data   jsoniter.RawMessage `json:"data"`
}

type commandResponse struct {
	OK    bool   `json:"ok"`
	Note  string `json:"note,omitempty"`
	Error string `json:"error,omitempty"`
}

type statusResponse struct {
	IsRunning bool `json:"isRunning"`
}

// Server exposes POST /command and GET /status.
type Server struct {
	cfg    config.ControlConfig
	runner Runner
	log    *zap.Logger

	mu      sync.Mutex
	baseCtx context.Context
	srv     *http.Server
}

// New builds a Server around a Runner.
func New(cfg config.ControlConfig, runner Runner, log *zap.Logger) *Server {
	s := &Server{cfg: cfg, runner: runner, log: log.Named("control")}
	r := mux.NewRouter()
	r.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	s.srv = &http.Server{Addr: cfg.Listen, Handler: r}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve runs the listener until the context ends, then shuts down within
// the configured grace period. Runs started through the server live on the
// given context.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Control server listening", zap.String("addr", s.cfg.Listen))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("control server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control server: %w", err)
	}
}

func (s *Server) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.reject(w, "request body unreadable")
		return
	}
	var req commandRequest
	if err := codec.Unmarshal(body, &req); err != nil {
		s.reject(w, "malformed command")
		return
	}

	switch req.Action {
	case ActionStart:
		s.handleStart(w, req.Data)
	case ActionStop:
		s.runner.Stop()
		s.ack(w, "")
	default:
		s.reject(w, fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (s *Server) handleStart(w http.ResponseWriter, data []byte) {
	if len(data) == 0 {
		s.reject(w, "missing payload")
		return
	}
	p, err := driver.ParsePayload(data)
	if err != nil {
		s.reject(w, err.Error())
		return
	}
	switch err := s.runner.Start(s.runContext(), p); {
	case err == nil:
		s.ack(w, "")
	case errors.Is(err, driver.ErrAlreadyRunning):
		// The popup contract: duplicate starts are acknowledged, not failed.
		s.ack(w, "already running")
	default:
		s.log.Error("Start failed", zap.Error(err))
		s.reject(w, "start failed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, statusResponse{IsRunning: s.runner.Running()})
}

func (s *Server) ack(w http.ResponseWriter, note string) {
	s.write(w, http.StatusOK, commandResponse{OK: true, Note: note})
}

func (s *Server) reject(w http.ResponseWriter, msg string) {
	s.write(w, http.StatusBadRequest, commandResponse{OK: false, Error: msg})
}

func (s *Server) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := codec.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", zap.Error(err))
	}
}
