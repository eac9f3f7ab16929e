package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/uigen/internal/generate"
	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

const waitTimeout = 2 * time.Second

// fakeGenerator answers by description: "block" waits for ctx, anything else returns
// immediately. A registered error is returned for the matching description.
type fakeGenerator struct {
	mu      sync.Mutex
	errs    map[string]error
	started chan string
	stopped chan string
	got     []*models.GenerationRequest
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		errs:    map[string]error{},
		started: make(chan string, 16),
		stopped: make(chan string, 16),
	}
}

func (g *fakeGenerator) Generate(ctx context.Context, req *models.GenerationRequest, opts ...generate.Option) (*generate.Outcome, error) {
	g.mu.Lock()
	g.got = append(g.got, req)
	err := g.errs[req.Description]
	g.mu.Unlock()

	g.started <- req.Description
	defer func() { g.stopped <- req.Description }()

	sub := &models.Submission{SessionID: "sess-" + req.Description, GalleryURL: "https://gallery.test/s/" + req.Description}
	if co := generate.Apply(opts...); co.OnSubmitted != nil {
		co.OnSubmitted(sub)
	}

	if strings.HasPrefix(req.Description, "block") {
		<-ctx.Done()
		return &generate.Outcome{Submission: sub}, ctx.Err()
	}
	if err != nil {
		return &generate.Outcome{Submission: sub}, err
	}
	return &generate.Outcome{
		Submission: sub,
		Text:       "component for " + req.Description,
	}, nil
}

func (g *fakeGenerator) requests() []*models.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*models.GenerationRequest(nil), g.got...)
}

type rawResponse struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type harness struct {
	t      *testing.T
	in     *io.PipeWriter
	out    chan rawResponse
	notes  chan rawResponse
	gen    *fakeGenerator
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	gen := newFakeGenerator()

	srv := NewServer(gen, Options{In: inR, Out: outW, Version: "1.2.3"}, nil)

	h := &harness{t: t, in: inW, out: make(chan rawResponse, 32), notes: make(chan rawResponse, 32), gen: gen, done: make(chan error, 1)}

	go func() {
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			var resp rawResponse
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				continue
			}
			if resp.Method != "" {
				h.notes <- resp
			} else {
				h.out <- resp
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- srv.Run(ctx)
		outW.Close()
	}()

	t.Cleanup(func() {
		cancel()
		inW.Close()
	})
	return h
}

func (h *harness) send(msg string) {
	h.t.Helper()
	_, err := io.WriteString(h.in, msg+"\n")
	require.NoError(h.t, err)
}

func (h *harness) call(id int, args string) {
	h.t.Helper()
	h.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"generate_component","arguments":%s}}`, id, args))
}

func (h *harness) recv() rawResponse {
	h.t.Helper()
	select {
	case r := <-h.out:
		return r
	case <-time.After(waitTimeout):
		h.t.Fatal("no response")
		return rawResponse{}
	}
}

func (h *harness) recvNote() rawResponse {
	h.t.Helper()
	select {
	case n := <-h.notes:
		return n
	case <-time.After(waitTimeout):
		h.t.Fatal("no notification")
		return rawResponse{}
	}
}

func (h *harness) assertNoResponse(wait time.Duration) {
	h.t.Helper()
	select {
	case r := <-h.out:
		h.t.Fatalf("unexpected response: id=%s", r.ID)
	case <-time.After(wait):
	}
}

func (h *harness) waitStarted(desc string) {
	h.t.Helper()
	select {
	case got := <-h.gen.started:
		require.Equal(h.t, desc, got)
	case <-time.After(waitTimeout):
		h.t.Fatalf("generation %q never started", desc)
	}
}

func (h *harness) waitStopped() string {
	h.t.Helper()
	select {
	case got := <-h.gen.stopped:
		return got
	case <-time.After(waitTimeout):
		h.t.Fatal("generation never stopped")
		return ""
	}
}

func (h *harness) waitDone() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("server did not stop")
		return nil
	}
}

func toolResult(t *testing.T, r rawResponse) CallToolResult {
	t.Helper()
	require.Nil(t, r.Error)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	require.Len(t, res.Content, 1)
	return res
}

func TestServer_Initialize(t *testing.T) {
	h := startServer(t)
	h.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)

	r := h.recv()
	assert.JSONEq(t, `1`, string(r.ID))
	var res InitializeResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	assert.Equal(t, protocolVersion, res.ProtocolVersion)
	assert.Equal(t, "uigen", res.ServerInfo.Name)
	assert.Equal(t, "1.2.3", res.ServerInfo.Version)
	assert.NotNil(t, res.Capabilities.Tools)
	assert.NotNil(t, res.Capabilities.Logging)

	h.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	h.send(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	r = h.recv()
	assert.JSONEq(t, `2`, string(r.ID))
	assert.Nil(t, r.Error)
}

func TestServer_ToolsList(t *testing.T) {
	h := startServer(t)
	h.send(`{"jsonrpc":"2.0","id":"list","method":"tools/list"}`)

	r := h.recv()
	assert.JSONEq(t, `"list"`, string(r.ID))
	var res ToolsListResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	require.Len(t, res.Tools, 1)
	assert.Equal(t, ToolGenerateComponent, res.Tools[0].Name)
	assert.Equal(t, []string{"description"}, res.Tools[0].InputSchema.Required)
}

func TestServer_CallSuccess(t *testing.T) {
	h := startServer(t)
	h.call(7, `{"description":"pricing card","framework":"Vue","styling":"css"}`)

	res := toolResult(t, h.recv())
	assert.False(t, res.IsError)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.Equal(t, "component for pricing card", res.Content[0].Text)

	reqs := h.gen.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, models.FrameworkVue, reqs[0].Framework)
	assert.Equal(t, models.StylingCSS, reqs[0].Styling)
}

func TestServer_CallErrors(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		register map[string]error
		want     []string
	}{
		{
			name:   "missing description",
			params: `{"name":"generate_component","arguments":{"framework":"react"}}`,
			want:   []string{"Invalid request", "description is required"},
		},
		{
			name:   "wrong argument type",
			params: `{"name":"generate_component","arguments":{"description":42}}`,
			want:   []string{"Invalid request", "description must be a string"},
		},
		{
			name:   "unknown tool",
			params: `{"name":"generate_image","arguments":{}}`,
			want:   []string{"unknown tool: generate_image"},
		},
		{
			name:     "timeout keeps gallery link",
			params:   `{"name":"generate_component","arguments":{"description":"slow"}}`,
			register: map[string]error{"slow": &provider.TimeoutError{SessionID: "sess-slow", Bound: time.Hour}},
			want:     []string{"No component was selected for session sess-slow within 1h0m0s", "Gallery: https://gallery.test/s/slow"},
		},
		{
			name:     "dispatch validation",
			params:   `{"name":"generate_component","arguments":{"description":"x"}}`,
			register: map[string]error{"x": fmt.Errorf("%w: %w", provider.ErrValidation, models.ErrInvalidFramework)},
			want:     []string{"Invalid request"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startServer(t)
			for desc, err := range tt.register {
				h.gen.errs[desc] = err
			}
			h.send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":` + tt.params + `}`)

			res := toolResult(t, h.recv())
			assert.True(t, res.IsError)
			for _, want := range tt.want {
				assert.Contains(t, res.Content[0].Text, want)
			}
		})
	}
}

func TestServer_ProtocolErrors(t *testing.T) {
	h := startServer(t)

	h.send(`{not json`)
	r := h.recv()
	require.NotNil(t, r.Error)
	assert.Equal(t, codeParseError, r.Error.Code)
	assert.JSONEq(t, `null`, string(r.ID))

	h.send(`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`)
	r = h.recv()
	require.NotNil(t, r.Error)
	assert.Equal(t, codeMethodNotFound, r.Error.Code)

	h.send(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":"bad"}`)
	r = h.recv()
	require.NotNil(t, r.Error)
	assert.Equal(t, codeInvalidParams, r.Error.Code)

	// unknown notifications are ignored
	h.send(`{"jsonrpc":"2.0","method":"notifications/progress"}`)
	h.assertNoResponse(50 * time.Millisecond)
}

func TestServer_ConcurrentCalls(t *testing.T) {
	h := startServer(t)

	h.call(1, `{"description":"block-first"}`)
	h.waitStarted("block-first")

	h.call(2, `{"description":"second"}`)
	r := h.recv()
	assert.JSONEq(t, `2`, string(r.ID))
	assert.Equal(t, "component for second", toolResult(t, r).Content[0].Text)

	h.send(`{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	r = h.recv()
	assert.JSONEq(t, `3`, string(r.ID))
}

func TestServer_ClientCancellation(t *testing.T) {
	h := startServer(t)

	h.call(9, `{"description":"block-cancel"}`)
	h.waitStarted("block-cancel")

	h.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":9,"reason":"user aborted"}}`)
	assert.Equal(t, "block-cancel", h.waitStopped())
	h.assertNoResponse(100 * time.Millisecond)

	// cancelling an unknown request is a no-op
	h.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":99}}`)
	h.send(`{"jsonrpc":"2.0","id":10,"method":"ping"}`)
	r := h.recv()
	assert.JSONEq(t, `10`, string(r.ID))
}

func TestServer_ShutdownOnEOFCancelsCalls(t *testing.T) {
	h := startServer(t)

	h.call(1, `{"description":"block-a"}`)
	h.waitStarted("block-a")
	h.call(2, `{"description":"block-b"}`)
	h.waitStarted("block-b")

	require.NoError(t, h.in.Close())
	assert.NoError(t, h.waitDone())

	stopped := []string{h.waitStopped(), h.waitStopped()}
	assert.ElementsMatch(t, []string{"block-a", "block-b"}, stopped)
}

func TestServer_ShutdownOnContextCancel(t *testing.T) {
	h := startServer(t)

	h.call(1, `{"description":"block-ctx"}`)
	h.waitStarted("block-ctx")

	h.cancel()
	assert.NoError(t, h.waitDone())
	assert.Equal(t, "block-ctx", h.waitStopped())
}

func TestServer_GalleryAnnouncedWhileWaiting(t *testing.T) {
	h := startServer(t)

	h.send(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"generate_component",` +
		`"arguments":{"description":"block-gallery"},"_meta":{"progressToken":"tok-5"}}}`)
	h.waitStarted("block-gallery")

	n := h.recvNote()
	assert.Equal(t, "notifications/message", n.Method)
	var msg struct {
		Level string        `json:"level"`
		Data  GalleryNotice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(n.Params, &msg))
	assert.Equal(t, "info", msg.Level)
	assert.Equal(t, "https://gallery.test/s/block-gallery", msg.Data.GalleryURL)
	assert.Equal(t, "sess-block-gallery", msg.Data.SessionID)

	n = h.recvNote()
	assert.Equal(t, "notifications/progress", n.Method)
	var progress ProgressParams
	require.NoError(t, json.Unmarshal(n.Params, &progress))
	assert.JSONEq(t, `"tok-5"`, string(progress.ProgressToken))
	assert.Contains(t, progress.Message, "https://gallery.test/s/block-gallery")

	// the call itself is still waiting
	h.assertNoResponse(50 * time.Millisecond)
}

func TestServer_GalleryWithoutProgressToken(t *testing.T) {
	h := startServer(t)
	h.call(6, `{"description":"quick"}`)

	r := h.recv()
	assert.False(t, toolResult(t, r).IsError)

	n := h.recvNote()
	assert.Equal(t, "notifications/message", n.Method)
	select {
	case extra := <-h.notes:
		t.Fatalf("unexpected notification %s", extra.Method)
	case <-time.After(50 * time.Millisecond):
	}
}
