// Package server exposes the ingestion pipeline over a websocket. Each
// request runs in its own goroutine and streams its stage records back.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Request asks for one document to be ingested. Type is url, text or file;
// file requests carry the bytes base64-encoded in Data.
type Request struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Enrich   bool   `json:"enrich,omitempty"`
	Target   string `json:"target,omitempty"`
}

type Message struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// StageData is the payload of a "stage" message.
type StageData struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ResultData is the payload of the final "result" message of a run.
type ResultData struct {
	RunID    string   `json:"run_id"`
	Status   string   `json:"status"`
	Stage    string   `json:"stage,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Title    string   `json:"title,omitempty"`
	Location string   `json:"location,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type Config struct {
	Pipeline *pipeline.Pipeline
	// Defaults are the run options requests start from.
	Defaults pipeline.RunOptions
	// Timeout bounds each run. Zero means no limit.
	Timeout time.Duration
	Logger  *slog.Logger
}

type WSServer struct {
	config Config
	logger *slog.Logger
}

func NewWSServer(config Config) *WSServer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSServer{config: config, logger: logger}
}

// Handler serves /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	// Runs in flight are cancelled when the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read", slog.String("error", err.Error()))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.sendMessage(c, Message{Type: "error", Content: "invalid request: " + err.Error()})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleRequest(ctx, c, req)
		}()
	}
}

func (s *WSServer) handleRequest(ctx context.Context, c *conn, req Request) {
	opts := s.config.Defaults
	if req.Enrich {
		opts.Enrich = true
	}
	if req.Target != "" {
		opts.Target = req.Target
	}

	var rc *pipeline.RunContext
	opts.Observer = func(rec pipeline.StageRecord) {
		s.sendMessage(c, Message{Type: "stage", ID: req.ID, Content: rec.Stage, Data: StageData{
			RunID:      rc.ID(),
			Stage:      rec.Stage,
			Action:     rec.Action.String(),
			Reason:     rec.Reason,
			Kind:       string(rec.Kind),
			Detail:     rec.Detail,
			DurationMS: rec.Duration.Milliseconds(),
		}})
	}

	switch req.Type {
	case "url":
		rc = pipeline.NewURLContext(req.Content, opts)
	case "text":
		rc = pipeline.NewTextContext(req.Content, opts)
	case "file":
		if len(req.Data) == 0 {
			s.sendMessage(c, Message{Type: "error", ID: req.ID, Content: "file request without data"})
			return
		}
		name := req.Filename
		if name == "" {
			name = req.Content
		}
		rc = pipeline.NewFileContext(name, req.Data, opts)
	case "image":
		rc = pipeline.NewImageContext(req.Data, opts)
	default:
		s.sendMessage(c, Message{Type: "error", ID: req.ID, Content: "unknown request type " + req.Type})
		return
	}

	s.sendMessage(c, Message{Type: "status", ID: req.ID, Content: "accepted", Data: map[string]string{"run_id": rc.ID()}})

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	rc, final := s.config.Pipeline.Run(ctx, rc)

	s.sendMessage(c, Message{Type: "result", ID: req.ID, Content: final.String(), Data: result(rc, final)})
}

func result(rc *pipeline.RunContext, final pipeline.FinalStatus) ResultData {
	res := ResultData{
		RunID:    rc.ID(),
		Status:   final.Status.String(),
		Stage:    final.Stage,
		Kind:     string(final.Kind),
		Detail:   final.Detail,
		Location: rc.MetaString("delivery.location"),
	}
	if doc, err := rc.Rendered(); err == nil {
		res.Title = doc.Title
	}
	if a, err := rc.Annotations(); err == nil {
		res.Summary = a.Summary
	}
	for _, w := range rc.Warnings() {
		res.Warnings = append(res.Warnings, w.String())
	}
	return res
}

func (s *WSServer) sendMessage(c *conn, msg Message) {
	if err := c.send(msg); err != nil {
		s.logger.Debug("error sending message", slog.String("type", msg.Type), slog.String("error", err.Error()))
	}
}
