// Package wsport carries channel messages over a websocket connection.
//
// A port always knows the origin of its peer: dialers derive it from the
// host URL, acceptors take it from the upgrade request's Origin header.
// Messages addressed to any other origin are not delivered.
package wsport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/blockbridge/internal/protocol/session"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrURLRequired        = errors.New("wsport: url required")
	ErrUnsupportedScheme  = errors.New("wsport: unsupported url scheme")
	ErrTargetMismatch     = errors.New("wsport: target origin does not match peer")
	ErrPeerOriginRequired = errors.New("wsport: peer origin required")
)

// Handler receives one decoded inbound message and the origin it came from.
type Handler = func(sender string, msg wire.Message)

// Port is one websocket connection bound to a peer origin.
type Port struct {
	conn         *websocket.Conn
	codec        wire.Codec
	peerOrigin   string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newPort(conn *websocket.Conn, codec wire.Codec, peerOrigin string, writeTimeout time.Duration) *Port {
	if codec == nil {
		codec = wire.JSONCodec{}
	}
	return &Port{
		conn:         conn,
		codec:        codec,
		peerOrigin:   peerOrigin,
		writeTimeout: writeTimeout,
	}
}

func (p *Port) PeerOrigin() string {
	return p.peerOrigin
}

// Post writes msg if target is wire.TargetAny or exactly the peer origin.
func (p *Port) Post(msg wire.Message, target string) error {
	if target != wire.TargetAny && target != p.peerOrigin {
		return fmt.Errorf("%w: target=%q peer=%q", ErrTargetMismatch, target, p.peerOrigin)
	}
	data, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}
	kind := websocket.TextMessage
	if p.codec.Binary() {
		kind = websocket.BinaryMessage
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	return p.conn.WriteMessage(kind, data)
}

// Serve reads messages until the connection closes or ctx is done. Frames
// that do not decode are dropped.
func (p *Port) Serve(ctx context.Context, handle Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				errors.Is(err, net.ErrClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		msg, err := p.codec.Decode(data)
		if err != nil {
			log.Debug().Str("peer", p.peerOrigin).Err(err).Msg("wsport.Port.Serve dropped frame")
			continue
		}
		handle(p.peerOrigin, msg)
	}
}

// Close sends a close frame and closes the connection.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

// DialConfig configures a block-side connection to a host.
type DialConfig struct {
	URL        string
	SelfOrigin string
	Codec      wire.Codec
	Session    session.Config
}

// Dial connects to the host, retrying with backoff up to
// Session.MaxConnectAttempts (0 retries until ctx is done). A rejected
// upgrade is not retried.
func Dial(ctx context.Context, cfg DialConfig) (*Port, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	peer, err := OriginFromURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	retry := cfg.Session.Backoff.Backoff()

	header := http.Header{}
	if cfg.SelfOrigin != "" {
		header.Set("Origin", cfg.SelfOrigin)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.Session.ConnectTimeout,
	}

	var attempt int
	for {
		attempt++
		conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
		if err == nil {
			return newPort(conn, cfg.Codec, peer, cfg.Session.WriteTimeout), nil
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Warn().
			Int("attempt", attempt).
			Str("url", cfg.URL).
			Int("status", status).
			Err(err).
			Msg("wsport.Dial failed")
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, err
		}
		if cfg.Session.MaxConnectAttempts > 0 && attempt >= cfg.Session.MaxConnectAttempts {
			return nil, err
		}
		if err := sleepBackoff(ctx, retry.Duration()); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AcceptConfig configures a host-side upgrade.
type AcceptConfig struct {
	Codec        wire.Codec
	WriteTimeout time.Duration
	// CheckOrigin gates the upgrade; nil accepts any non-empty origin.
	CheckOrigin func(origin string) bool
}

// Accept upgrades an HTTP request from a block into a port.
func Accept(w http.ResponseWriter, r *http.Request, cfg AcceptConfig) (*Port, error) {
	peer := r.Header.Get("Origin")
	if strings.TrimSpace(peer) == "" {
		http.Error(w, "origin required", http.StatusForbidden)
		return nil, ErrPeerOriginRequired
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.CheckOrigin == nil {
				return true
			}
			return cfg.CheckOrigin(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newPort(conn, cfg.Codec, peer, cfg.WriteTimeout), nil
}

// OriginFromURL returns the web origin of a host URL: ws maps to http, wss
// to https, and default ports are omitted.
func OriginFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	var scheme, defaultPort string
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		scheme, defaultPort = "http", "80"
	case "wss", "https":
		scheme, defaultPort = "https", "443"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrURLRequired)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPort {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}
