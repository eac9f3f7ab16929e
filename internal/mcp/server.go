// Package mcp serves the generate_component tool over the MCP stdio transport:
// newline-delimited JSON-RPC 2.0 on stdin and stdout.
//
// Every tools/call runs in its own goroutine with its own context, so a call that is
// waiting for a human selection never holds up other requests. Writes to the output
// are serialised; nothing else is shared between calls.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/manash/uigen/internal/generate"
	"github.com/manash/uigen/internal/logging"
	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

const (
	protocolVersion = "2024-11-05"
	maxMessageSize  = 4 * 1024 * 1024
)

// Generator runs one generation to completion.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest, opts ...generate.Option) (*generate.Outcome, error)
}

type Options struct {
	In         io.Reader
	Out        io.Writer
	Version    string
	Frameworks []models.Framework
}

type Server struct {
	gen        Generator
	in         io.Reader
	out        io.Writer
	version    string
	frameworks []models.Framework
	logger     *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]*call
	wg       sync.WaitGroup
}

type call struct {
	cancel          context.CancelFunc
	cancelledByPeer bool
}

// NewServer returns a server for gen. Run starts it.
func NewServer(gen Generator, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		gen:        gen,
		in:         opts.In,
		out:        opts.Out,
		version:    version,
		frameworks: opts.Frameworks,
		logger:     logger,
		inflight:   make(map[string]*call),
	}
}

// Run serves until the input closes or ctx is cancelled. Either way every in-flight call
// is cancelled and Run returns only after all of them have released their resources.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLines(ctx, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down", "in_flight", s.inflightCount())
			return nil
		case err := <-readErr:
			if err != nil {
				s.logger.Error("failed to read input", "error", err)
			} else {
				s.logger.Info("input closed", "in_flight", s.inflightCount())
			}
			return err
		case line := <-lines:
			s.handleLine(ctx, line)
		}
	}
}

func (s *Server) readLines(ctx context.Context, lines chan<- []byte) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		msg := append([]byte(nil), line...)
		select {
		case lines <- msg:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeError(nil, codeParseError, "parse error: "+err.Error())
		return
	}
	if req.Method == "" {
		if !req.IsNotification() {
			s.writeError(req.ID, codeInvalidRequest, "missing method")
		}
		return
	}

	switch req.Method {
	case "initialize":
		s.reply(&req, InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolCapabilities{}, Logging: &struct{}{}},
			ServerInfo:      ServerInfo{Name: "uigen", Version: s.version},
		})
	case "initialized", "notifications/initialized":
	case "ping":
		s.reply(&req, map[string]string{})
	case "tools/list":
		s.reply(&req, ToolsListResult{Tools: ToolDefinitions(s.frameworks)})
	case "tools/call":
		s.startCall(ctx, &req)
	case "notifications/cancelled":
		s.handleCancelled(&req)
	default:
		if !req.IsNotification() {
			s.writeError(req.ID, codeMethodNotFound, "method not found: "+req.Method)
		}
	}
}

func (s *Server) startCall(ctx context.Context, req *Request) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, codeInvalidParams, "invalid params: "+fmt.Sprint(err))
		return
	}
	if req.IsNotification() {
		return
	}

	key := string(req.ID)
	callCtx, cancel := context.WithCancel(ctx)
	c := &call{cancel: cancel}

	s.mu.Lock()
	if _, dup := s.inflight[key]; dup {
		s.mu.Unlock()
		cancel()
		s.writeError(req.ID, codeInvalidRequest, "request id already in use: "+key)
		return
	}
	s.inflight[key] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		result := s.callTool(callCtx, &params)

		s.mu.Lock()
		delete(s.inflight, key)
		peerCancelled := c.cancelledByPeer
		s.mu.Unlock()

		// the peer has abandoned this request and expects no response
		if peerCancelled {
			s.logger.Debug("call cancelled by client", "request_id", key)
			return
		}
		s.reply(req, result)
	}()
}

func (s *Server) handleCancelled(req *Request) {
	var params CancelledParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
		s.logger.Warn("malformed cancellation", "error", err)
		return
	}

	key := string(params.RequestID)
	s.mu.Lock()
	c, ok := s.inflight[key]
	if ok {
		c.cancelledByPeer = true
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("cancelling call", "request_id", key, "reason", params.Reason)
		c.cancel()
	}
}

func (s *Server) callTool(ctx context.Context, params *CallToolParams) CallToolResult {
	if params.Name != ToolGenerateComponent {
		return errorResult(fmt.Sprintf("unknown tool: %s", params.Name))
	}

	req, err := requestFromArgs(params.Arguments)
	if err != nil {
		return errorResult(provider.Describe(fmt.Errorf("%w: %w", provider.ErrValidation, err)))
	}

	out, err := s.gen.Generate(ctx, req, generate.WithSubmitted(func(sub *models.Submission) {
		s.announceGallery(params, sub)
	}))
	if err != nil {
		msg := provider.Describe(err)
		if out != nil && out.Submission != nil && out.Submission.GalleryURL != "" {
			msg += "\n\nGallery: " + out.Submission.GalleryURL
		}
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("tool call failed", "tool", params.Name, "error", err)
		}
		return errorResult(msg)
	}

	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: out.Text}}}
}

// announceGallery sends the gallery link while the call is still waiting, so the host can
// show it even when no browser was opened.
func (s *Server) announceGallery(params *CallToolParams, sub *models.Submission) {
	if sub == nil || sub.GalleryURL == "" {
		return
	}
	text := "Pick a variation in the gallery: " + sub.GalleryURL

	s.write(&Notification{JSONRPC: "2.0", Method: "notifications/message", Params: LogMessageParams{
		Level:  "info",
		Logger: "uigen",
		Data:   GalleryNotice{Message: text, SessionID: sub.SessionID, GalleryURL: sub.GalleryURL},
	}})

	if params.Meta != nil && len(params.Meta.ProgressToken) > 0 {
		s.write(&Notification{JSONRPC: "2.0", Method: "notifications/progress", Params: ProgressParams{
			ProgressToken: params.Meta.ProgressToken,
			Progress:      0,
			Message:       text,
		}})
	}
}

func (s *Server) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func errorResult(text string) CallToolResult {
	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func (s *Server) reply(req *Request, result interface{}) {
	if req.IsNotification() {
		return
	}
	s.write(&Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	s.write(&Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *Server) write(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
