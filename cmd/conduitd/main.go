// conduitd is the demo binary: it loads configuration, registers a small
// set of routes behind the stock middleware chain and serves them over the
// minimal HTTP/1.1 codec, shutting down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"example.com/conduit/internal/codec"
	"example.com/conduit/internal/config"
	"example.com/conduit/internal/logger"
	"example.com/conduit/internal/middleware"
	"example.com/conduit/internal/responder"
	"example.com/conduit/internal/router"
	"example.com/conduit/internal/server"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "conduitd",
		Short:        "conduitd serves the demo routes over the conduit request pipeline",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration file (TOML or JSON)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	rt := router.New()
	if err := registerRoutes(rt, lg); err != nil {
		return err
	}
	rt.Finalize()

	srv, err := server.New(cfg, lg, rt, func(rw io.ReadWriter) codec.Codec {
		return codec.NewHTTP1(rw)
	})
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		lg.Info("shutdown signal received", logger.LogFields{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			lg.Warn("shutdown did not complete cleanly", logger.LogFields{"error": err.Error()})
			return err
		}
		return <-errChan
	}
}

// registerRoutes wires the demo endpoints: every chain is composed once here
// at startup and bound to its (path, verb) pair.
func registerRoutes(rt *router.Router, lg *logger.Logger) error {
	chain := responder.NewGroup(
		middleware.ErrorMapper(lg),
		middleware.AccessLog(lg),
		middleware.Recover(lg),
	)

	hello := responder.ResponderFunc(func(ctx context.Context, req *responder.Request) (*responder.Response, error) {
		h := make(http.Header)
		h.Set("content-type", "text/plain; charset=utf-8")
		return &responder.Response{Status: http.StatusOK, Header: h, Body: []byte("hello from conduit\n")}, nil
	})
	health := responder.ResponderFunc(func(ctx context.Context, req *responder.Request) (*responder.Response, error) {
		h := make(http.Header)
		h.Set("content-type", "application/json")
		return &responder.Response{Status: http.StatusOK, Header: h, Body: []byte(`{"status":"ok"}`)}, nil
	})
	echo := responder.ResponderFunc(func(ctx context.Context, req *responder.Request) (*responder.Response, error) {
		h := make(http.Header)
		h.Set("content-type", "application/octet-stream")
		return &responder.Response{Status: http.StatusOK, Header: h, Body: req.Body}, nil
	})

	if err := rt.Handle("/hello", http.MethodGet, chain.Then(hello)); err != nil {
		return err
	}
	if err := rt.Handle("/healthz", http.MethodGet, chain.Then(health)); err != nil {
		return err
	}
	if err := rt.Handle("/echo", http.MethodPost, chain.Then(echo)); err != nil {
		return err
	}
	return nil
}
