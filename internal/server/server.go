// Package server owns process-level serving: listener setup, the accept
// loop, per-connection pipeline assembly and the graceful shutdown
// broadcast that quiesces every live connection.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"k8s.io/utils/clock"

	"example.com/conduit/internal/codec"
	"example.com/conduit/internal/config"
	"example.com/conduit/internal/logger"
	"example.com/conduit/internal/router"
)

// Server accepts connections and runs one pipeline per connection. Route
// registration must be finished (router.Finalize called) before Serve; the
// router and the composed responder chains it holds are then immutable,
// read-only shared state.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	router   *router.Router
	newCodec codec.Factory
	clk      clock.WithDelayedExecution

	mu        sync.Mutex
	listener  net.Listener
	conns     map[*conn]struct{}
	quiescing bool

	connsWG sync.WaitGroup
}

// New creates a Server. All collaborators are required.
func New(cfg *config.Config, lg *logger.Logger, rt *router.Router, factory codec.Factory) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if rt == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("codec factory cannot be nil")
	}
	return &Server{
		cfg:      cfg,
		log:      lg,
		router:   rt,
		newCodec: factory,
		clk:      clock.RealClock{},
		conns:    make(map[*conn]struct{}),
	}, nil
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", *s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *s.cfg.Server.Address, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln. It returns nil after a graceful
// shutdown, or the accept error otherwise.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.quiescing {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is shutting down")
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("server listening", logger.LogFields{"address": ln.Addr().String()})

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			quiescing := s.quiescing
			s.mu.Unlock()
			if quiescing {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		c := newConn(s, nc)
		s.mu.Lock()
		if s.quiescing {
			// Shutdown raced the accept; do not take on new work.
			s.mu.Unlock()
			nc.Close()
			continue
		}
		s.conns[c] = struct{}{}
		s.connsWG.Add(1)
		s.mu.Unlock()

		go c.serve()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown begins a graceful shutdown: the listener stops accepting and
// every live connection is signalled to quiesce. Idle connections close
// immediately; connections with in-flight work drain, bounded per
// connection by the configured quiesce timeout. Shutdown returns once every
// connection has closed or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.quiescing {
		s.mu.Unlock()
		return nil
	}
	s.quiescing = true
	ln := s.listener
	live := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.log.Info("quiescing connections", logger.LogFields{"connections": len(live)})
	for _, c := range live {
		c.ctrl.Quiesce()
	}

	done := make(chan struct{})
	go func() {
		s.connsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	_, tracked := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if tracked {
		s.connsWG.Done()
	}
}
