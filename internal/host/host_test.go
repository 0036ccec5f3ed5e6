package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/blockbridge/internal/block"
	"github.com/danmuck/blockbridge/internal/protocol/session"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/danmuck/blockbridge/internal/testutil/testlog"
	"github.com/danmuck/blockbridge/internal/transport/wsport"
	"github.com/gin-gonic/gin"
)

const blockOrigin = "http://block.local"

func startHost(t *testing.T, cfg Config) (*Host, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewUnstartedServer(nil)
	cfg.Origin = "http://" + srv.Listener.Addr().String()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	srv.Config.Handler = NewServer(h, ServerConfig{}).HTTPRouter()
	srv.Start()
	t.Cleanup(srv.Close)
	return h, srv
}

func connectBlock(t *testing.T, srv *httptest.Server, onClose func()) (*block.Channel, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	scfg := session.DefaultConfig()
	scfg.MaxConnectAttempts = 1
	port, err := wsport.Dial(ctx, wsport.DialConfig{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		SelfOrigin: blockOrigin,
		Session:    scfg,
	})
	if err != nil {
		cancel()
		t.Fatalf("dial host: %v", err)
	}
	cfg := block.DefaultConfig()
	cfg.SelfOrigin = blockOrigin
	cfg.Whitelist = []string{"127.0.0.1"}
	cfg.SSLOptional = true
	cfg.Init = map[string]any{"key": "richTextField"}
	cfg.OnClose = onClose
	ch, err := block.New(cfg, port)
	if err != nil {
		cancel()
		t.Fatalf("new block: %v", err)
	}
	go func() {
		_ = port.Serve(ctx, ch.Receive)
	}()
	t.Cleanup(func() {
		cancel()
		_ = port.Close()
	})
	return ch, cancel
}

func waitResult(t *testing.T, results <-chan session.Result) session.Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
		return session.Result{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBlockHostEndToEnd(t *testing.T) {
	testlog.Start(t)
	h, srv := startHost(t, Config{
		Name: "host-e2e",
		Seed: Seed{Content: "hello", UserData: map[string]any{"stack": "s7"}},
	})

	closed := make(chan struct{}, 4)
	ch, _ := connectBlock(t, srv, func() { closed <- struct{}{} })

	results := make(chan session.Result, 4)
	ch.GetContent(func(r session.Result) { results <- r })

	r := waitResult(t, results)
	if !r.OK() || r.Payload != "hello" {
		t.Fatalf("unexpected getContent result: %+v", r)
	}
	if ch.ParentOrigin() != h.Origin() {
		t.Fatalf("pinned origin=%q want=%q", ch.ParentOrigin(), h.Origin())
	}

	ch.SetContent("<p>edited</p>", func(r session.Result) { results <- r })
	if r := waitResult(t, results); r.Payload != "<p>edited</p>" {
		t.Fatalf("unexpected setContent result: %+v", r)
	}
	if got, _ := h.Store().Handle(block.MethodGetContent, nil); got != "<p>edited</p>" {
		t.Fatalf("store not updated: %v", got)
	}

	blocks := h.Blocks()
	if len(blocks) != 1 || !blocks[0].Handshaken || blocks[0].Origin != blockOrigin {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
	init, _ := blocks[0].Init.(map[string]any)
	if init["key"] != "richTextField" {
		t.Fatalf("init payload not recorded: %+v", blocks[0].Init)
	}

	resp, err := http.Post(srv.URL+"/blocks/close", "application/json", nil)
	if err != nil {
		t.Fatalf("post close: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected close status: %d", resp.StatusCode)
	}
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("close handler not invoked")
	}
	waitFor(t, "close acknowledgement", func() bool {
		b := h.Blocks()
		return len(b) == 1 && b[0].CloseAcks == 1
	})
}

func TestBlockIgnoresUntrustedHost(t *testing.T) {
	testlog.Start(t)
	_, srv := startHost(t, Config{Seed: Seed{Content: "secret"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port, err := wsport.Dial(ctx, wsport.DialConfig{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		SelfOrigin: blockOrigin,
		Session:    session.Config{MaxConnectAttempts: 1},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer port.Close()

	cfg := block.DefaultConfig()
	cfg.SelfOrigin = blockOrigin
	cfg.Whitelist = []string{"host.test"}
	ch, err := block.New(cfg, port)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = port.Serve(ctx, ch.Receive)
	}()
	ch.GetContent(func(session.Result) { t.Errorf("untrusted host answered") })

	time.Sleep(200 * time.Millisecond)
	if ch.Ready() || ch.PendingLen() != 1 {
		t.Fatalf("untrusted handshake accepted: phase=%s pending=%d", ch.Phase(), ch.PendingLen())
	}
	cancel()
	<-served
}

func TestHostRejectsBlockOutsideWhitelist(t *testing.T) {
	testlog.Start(t)
	_, srv := startHost(t, Config{BlockWhitelist: []string{"trusted.test"}})

	_, err := wsport.Dial(context.Background(), wsport.DialConfig{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		SelfOrigin: "https://other.test",
		Session:    session.Config{MaxConnectAttempts: 1},
	})
	if err == nil {
		t.Fatalf("expected upgrade refused")
	}
}

type fakePort struct {
	origin string
	posted []sentMsg
}

type sentMsg struct {
	msg    wire.Message
	target string
}

func (f *fakePort) PeerOrigin() string { return f.origin }

func (f *fakePort) Post(msg wire.Message, target string) error {
	f.posted = append(f.posted, sentMsg{msg: msg, target: target})
	return nil
}

func (f *fakePort) Serve(ctx context.Context, handle func(string, wire.Message)) error {
	handle(f.origin, wire.Handshake(f.origin, "init"))
	handle(f.origin, wire.Message{Method: block.MethodGetView, ID: 1})
	handle(f.origin, wire.Message{Method: "launchMissiles", ID: 2})
	handle(f.origin, wire.Message{Method: wire.MethodBlockReadyToClose, ID: 3})
	return nil
}

func TestHostHandleRepliesToBlockOrigin(t *testing.T) {
	testlog.Start(t)
	h, err := New(Config{Origin: "https://host.test", Seed: Seed{View: "html"}})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	port := &fakePort{origin: "https://block.test"}
	if err := h.Serve(context.Background(), port); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if len(port.posted) != 3 {
		t.Fatalf("expected handshake, view and ack replies, got %+v", port.posted)
	}
	for _, p := range port.posted {
		if p.target != "https://block.test" {
			t.Fatalf("reply not addressed to block origin: %+v", p)
		}
	}
	hs := port.posted[0].msg
	if hs.Method != wire.MethodHandshake || hs.Origin != "https://host.test" {
		t.Fatalf("unexpected handshake reply: %+v", hs)
	}
	if view := port.posted[1].msg; view.ID != 1 || view.Payload != "html" {
		t.Fatalf("unexpected view reply: %+v", view)
	}
	if len(h.Blocks()) != 0 {
		t.Fatalf("block not removed after serve returned")
	}
}

func TestNewRequiresOrigin(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}); !errors.Is(err, ErrOriginRequired) {
		t.Fatalf("expected ErrOriginRequired, got %v", err)
	}
}

func TestServerRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	h, err := New(Config{Name: "host-routes", Origin: "https://host.test"})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	s := NewServer(h, ServerConfig{CorsOrigins: []string{"https://host.test/"}})

	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if rr.Code != http.StatusOK || body["service"] != "host-routes" || body["origin"] != "https://host.test" {
		t.Fatalf("unexpected health: %d %v", rr.Code, body)
	}

	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/blocks/close?id=42", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown block, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/blocks/close?id=x", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/blocks/close", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when closing no blocks, got %d", rr.Code)
	}
}

func TestServerCloseRequiresAdminToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	h, err := New(Config{Origin: "https://host.test"})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	s := NewServer(h, ServerConfig{AdminToken: "s3cret"})

	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/blocks/close", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/blocks/close", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blocks", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("read routes should stay open, got %d", rr.Code)
	}
}

type holdPort struct {
	origin string
	init   any

	mu     sync.Mutex
	posted []wire.Message
}

func (p *holdPort) PeerOrigin() string { return p.origin }

func (p *holdPort) Post(msg wire.Message, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted = append(p.posted, msg)
	return nil
}

func (p *holdPort) Serve(ctx context.Context, handle func(string, wire.Message)) error {
	handle(p.origin, wire.Handshake(p.origin, p.init))
	<-ctx.Done()
	return nil
}

func (p *holdPort) closeRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.posted {
		if m.Method == wire.MethodCloseBlock {
			n++
		}
	}
	return n
}

func TestRequestCloseOnlyAsksBlocksWithCloseHandler(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	h, err := New(Config{Origin: "https://host.test"})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wants := &holdPort{origin: "https://a.block.test", init: map[string]any{wire.InitOnEditClose: true}}
	plain := &holdPort{origin: "https://b.block.test", init: map[string]any{"key": "richTextField"}}
	go func() { _ = h.Serve(ctx, wants) }()
	waitFor(t, "first block", func() bool { return len(h.Blocks()) == 1 && h.Blocks()[0].Handshaken })
	go func() { _ = h.Serve(ctx, plain) }()
	waitFor(t, "second block", func() bool { return len(h.Blocks()) == 2 && h.Blocks()[1].Handshaken })

	blocks := h.Blocks()
	if !blocks[0].OnEditClose || blocks[1].OnEditClose {
		t.Fatalf("unexpected close flags: %+v", blocks)
	}

	asked, err := h.RequestClose(0)
	if err != nil || asked != 1 {
		t.Fatalf("close all asked=%d err=%v", asked, err)
	}
	if wants.closeRequests() != 1 || plain.closeRequests() != 0 {
		t.Fatalf("close sent to wrong blocks: wants=%d plain=%d", wants.closeRequests(), plain.closeRequests())
	}
	if _, err := h.RequestClose(blocks[1].ID); !errors.Is(err, ErrCloseNotWanted) {
		t.Fatalf("expected ErrCloseNotWanted, got %v", err)
	}

	rr := httptest.NewRecorder()
	NewServer(h, ServerConfig{}).HTTPRouter().ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, "/blocks/close?id="+strconv.FormatUint(blocks[1].ID, 10), nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for block without close handler, got %d", rr.Code)
	}
}

func TestCorsPreflightAllowsAuthorization(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	h, err := New(Config{Origin: "https://host.test"})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	s := NewServer(h, ServerConfig{CorsOrigins: []string{"https://admin.test"}, AdminToken: "s3cret"})

	req := httptest.NewRequest(http.MethodOptions, "/blocks/close", nil)
	req.Header.Set("Origin", "https://admin.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected preflight status: %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Fatalf("preflight does not allow Authorization: %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.test" {
		t.Fatalf("unexpected allowed origin: %q", got)
	}
}
