// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/docqa/core"
)

// Ingester indexes an uploaded file into a session.
type Ingester interface {
	IngestFile(ctx context.Context, id core.SessionID, path, source string) (int, error)
}

// Querier answers a question from a session's documents.
type Querier interface {
	Query(ctx context.Context, id core.SessionID, question string) (*core.QueryResult, error)
}

// Rewriter restyles an answer.
type Rewriter interface {
	Rewrite(ctx context.Context, answer, style string) (string, error)
}

// SessionDeleter removes a session's persisted state.
type SessionDeleter interface {
	Delete(ctx context.Context, id core.SessionID) error
}

// Server exposes the ingestion and query pipelines over HTTP.
type Server struct {
	ingester Ingester
	querier  Querier
	rewriter Rewriter
	sessions SessionDeleter

	allowedOrigins  map[string]bool
	anyOrigin       bool
	uploadDir       string
	maxUploadBytes  int64
	model           string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithAllowedOrigins sets the origins allowed to make cross-origin requests.
// "*" allows every origin. Default is none.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) error {
		for _, origin := range origins {
			if origin == "*" {
				s.anyOrigin = true
				continue
			}
			s.allowedOrigins[origin] = true
		}
		return nil
	}
}

// WithUploadDir sets the directory uploaded files are staged in.
// Default is a docqa-uploads directory under os.TempDir().
func WithUploadDir(dir string) Option {
	return func(s *Server) error {
		if dir == "" {
			return errors.New("upload dir cannot be empty")
		}
		s.uploadDir = dir
		return nil
	}
}

// WithMaxUploadBytes bounds the size of an upload request body.
// Default is 32 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("max upload bytes must be positive, got %d", n)
		}
		s.maxUploadBytes = n
		return nil
	}
}

// WithModelName sets the generation model reported by the health endpoint.
func WithModelName(model string) Option {
	return func(s *Server) error {
		s.model = model
		return nil
	}
}

// WithShutdownTimeout bounds the graceful shutdown in Serve.
// Default is 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.shutdownTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a server over the given pipelines.
func New(ingester Ingester, querier Querier, rewriter Rewriter, sessions SessionDeleter, opts ...Option) (*Server, error) {
	if ingester == nil {
		return nil, ErrIngesterRequired
	}
	if querier == nil {
		return nil, ErrQuerierRequired
	}
	if rewriter == nil {
		return nil, ErrRewriterRequired
	}
	if sessions == nil {
		return nil, ErrSessionsRequired
	}

	s := &Server{
		ingester:        ingester,
		querier:         querier,
		rewriter:        rewriter,
		sessions:        sessions,
		allowedOrigins:  make(map[string]bool),
		uploadDir:       filepath.Join(os.TempDir(), "docqa-uploads"),
		maxUploadBytes:  32 << 20,
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.logger = s.logger.With("component", "server")
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /rewrite", s.handleRewrite)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	return s.recoverPanics(s.logRequests(s.cors(mux)))
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(listener)
	}()
	s.logger.Info("listening", "addr", listener.Addr().String())

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
