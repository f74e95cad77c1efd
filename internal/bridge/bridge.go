// Package bridge exposes the session controller to an embedding host over a
// websocket, plus health and metrics endpoints.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/murmur/internal/protocol"
)

const (
	DefaultListen = "127.0.0.1:7777"
	DefaultPath   = "/bridge"
	shutdownGrace = 2 * time.Second
)

// Commander executes host commands.
type Commander interface {
	Command(context.Context, protocol.Command) protocol.CommandResult
}

// Config parameterizes a bridge server.
type Config struct {
	Listen   string
	Path     string
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server serves the host bridge.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	commander Commander
	hub       *Hub
	app       *fiber.App

	// ctx bounds sessions opened through the bridge; set by Serve.
	ctx context.Context
}

// New builds the bridge routes.
func New(cfg Config, commander Commander) *Server {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		commander: commander,
		hub:       NewHub(cfg.Logger),
		ctx:       context.Background(),
		app: fiber.New(fiber.Config{
			AppName:               "murmur",
			DisableStartupMessage: true,
		}),
	}
	s.routes()
	return s
}

// Hub returns the notification fanout for connected hosts.
func (s *Server) Hub() *Hub {
	return s.hub
}

// App exposes the fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)

	if s.cfg.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	s.app.Use(s.cfg.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get(s.cfg.Path, websocket.New(s.handleSocket))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := s.commander.Command(c.UserContext(), protocol.Command{Method: protocol.CommandStatus})
	return c.JSON(fiber.Map{
		"status":  "ok",
		"state":   status.State,
		"clients": s.hub.Len(),
	})
}

func (s *Server) handleSocket(conn *websocket.Conn) {
	client := s.hub.add(conn)
	defer s.hub.remove(client)
	s.logger.Info("bridge host connected", "remote", conn.RemoteAddr().String())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("bridge host disconnected", "error", err)
			return
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			client.send(protocol.CommandResult{OK: false, Error: err.Error()})
			continue
		}

		s.logger.Debug("bridge command", "method", cmd.Method)
		client.send(s.commander.Command(s.ctx, cmd))
	}
}

// Serve runs the bridge on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case <-ctx.Done():
		s.hub.closeAll()
		if err := s.app.ShutdownWithTimeout(shutdownGrace); err != nil {
			return fmt.Errorf("shutdown bridge: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("serve bridge: %w", err)
		}
		return nil
	}
}

// ListenAndServe binds cfg.Listen and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	s.logger.Info("bridge listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return s.Serve(ctx, ln)
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
