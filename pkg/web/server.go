// Package web provides a real-time dashboard for the robot: current
// activity state, backend mode, connectivity, and the rolling conversation.
package web

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/voxbotics/verba/pkg/dialog"
	"github.com/voxbotics/verba/pkg/hub"
	"github.com/voxbotics/verba/pkg/mode"
	"github.com/voxbotics/verba/pkg/pipeline"
)

// RobotState is the dashboard's view of the robot.
type RobotState struct {
	Activity  string `json:"activity"`
	Mode      string `json:"mode"`
	Reachable bool   `json:"reachable"`
	Turns     int    `json:"turns"`
}

// LogEntry is one dashboard log line.
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Server is the dashboard server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	history *dialog.History

	stateMu sync.RWMutex
	state   RobotState

	logsMu sync.RWMutex
	logs   []LogEntry

	stateHub *hub.Hub
	logHub   *hub.Hub

	ingest  func([]byte) error
	audioMu sync.Mutex
}

// ServerOption configures the dashboard server.
type ServerOption func(*Server)

// WithAudioIngress exposes /ws/audio. Binary messages on that socket are
// opus packets from a remote microphone and are handed to ingest; one
// connection holds the mic at a time.
func WithAudioIngress(ingest func([]byte) error) ServerOption {
	return func(s *Server) { s.ingest = ingest }
}

// NewServer creates the dashboard server bound to addr.
func NewServer(addr string, history *dialog.History, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:     addr,
		logger:   logger.With("component", "web"),
		history:  history,
		logs:     make([]LogEntry, 0, 500),
		stateHub: hub.New("state", logger),
		logHub:   hub.New("logs", logger),
		state:    RobotState{Activity: string(pipeline.StateIdle), Mode: mode.Online.String(), Reachable: true},
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Verba Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/history", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	if s.ingest != nil {
		app.Get("/ws/audio", websocket.New(s.handleAudioWS))
	}

	s.app = app
	return s
}

// Start runs the hubs and the HTTP listener. Blocks until Shutdown.
func (s *Server) Start() error {
	go s.stateHub.Run()
	go s.logHub.Run()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Callbacks returns pipeline callbacks that feed the dashboard.
func (s *Server) Callbacks() pipeline.Callbacks {
	return pipeline.Callbacks{
		OnState: func(st pipeline.State) {
			s.updateState(func(r *RobotState) { r.Activity = string(st) })
		},
		OnTurn: func(t dialog.Turn) {
			s.updateState(func(r *RobotState) { r.Turns = s.history.Len() })
			s.AddLog("info", "heard: "+t.UserText)
			if t.Spoken {
				s.AddLog("info", "said: "+t.ReplyText)
			} else {
				s.AddLog("error", "unspoken reply: "+t.ReplyText)
			}
		},
		OnMode: func(m mode.Mode) {
			s.updateState(func(r *RobotState) {
				r.Mode = m.String()
				r.Reachable = m == mode.Online
			})
			s.AddLog("info", "mode: "+m.String())
		},
	}
}

// AddLog records a log line and broadcasts it to clients.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Level:   level,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > 500 {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

func (s *Server) updateState(update func(*RobotState)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.stateHub.BroadcastJSON(state)
}

func (s *Server) handleState(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.state)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.history.Turns())
}

func (s *Server) handleStateWS(c *websocket.Conn) {
	s.stateMu.RLock()
	state := s.state
	s.stateMu.RUnlock()
	c.WriteJSON(state)

	hub.NewClient(s.stateHub, c).Run()
}

func (s *Server) handleAudioWS(c *websocket.Conn) {
	if !s.audioMu.TryLock() {
		s.logger.Warn("audio ingress refused, mic already held")
		c.Close()
		return
	}
	defer s.audioMu.Unlock()

	s.logger.Info("remote microphone connected", "remote", c.RemoteAddr().String())
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Info("remote microphone disconnected", "error", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := s.ingest(data); err != nil {
			s.logger.Error("audio ingress decode failed", "error", err)
		}
	}
}

func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logsMu.RLock()
	for _, entry := range s.logs {
		c.WriteJSON(entry)
	}
	s.logsMu.RUnlock()

	hub.NewClient(s.logHub, c).Run()
}
