package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/blockbridge/internal/block"
	"github.com/danmuck/blockbridge/internal/config"
	"github.com/danmuck/blockbridge/internal/logging"
	"github.com/danmuck/blockbridge/internal/protocol/session"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/danmuck/blockbridge/internal/transport/streamport"
	"github.com/danmuck/blockbridge/internal/transport/wsport"
	"github.com/rs/zerolog/log"
)

var ErrNoResult = errors.New("blockctl: timed out waiting for result")

type options struct {
	configPath string
	hostURL    string
	transport  string
	peerOrigin string
	selfOrigin string
	op         string
	payload    string
	timeout    time.Duration
	waitClose  bool
}

// port is what blockctl needs from a transport.
type port interface {
	block.Transport
	Serve(ctx context.Context, handle func(sender string, msg wire.Message)) error
}

type stdio struct {
	io.Reader
	io.Writer
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "block config path (defaults when empty)")
	flag.StringVar(&opts.hostURL, "url", "", "host websocket URL (overrides host_url)")
	flag.StringVar(&opts.transport, "transport", "ws", "transport: ws|stdio")
	flag.StringVar(&opts.peerOrigin, "peer-origin", "", "host origin for the stdio transport")
	flag.StringVar(&opts.selfOrigin, "self-origin", "", "override the block's own origin")
	flag.StringVar(&opts.op, "op", block.MethodGetContent, "host operation to call (empty to only handshake)")
	flag.StringVar(&opts.payload, "payload", "", "JSON payload for the operation")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "time to wait for the operation result")
	flag.BoolVar(&opts.waitClose, "wait-close", false, "stay attached until the host closes the block")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "blockctl: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	method, payload, err := parseOp(opts.op, opts.payload)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closed := make(chan struct{}, 1)
	if opts.waitClose {
		cfg.Channel.OnClose = func() {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	}

	p, out, err := openPort(ctx, opts, cfg)
	if err != nil {
		return err
	}
	ch, err := block.New(cfg.Channel, p)
	if err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- p.Serve(ctx, ch.Receive) }()
	go func() { _ = ch.Run(ctx) }()

	if method != "" {
		results := make(chan session.Result, 1)
		ch.Call(method, payload, func(r session.Result) { results <- r })
		select {
		case r := <-results:
			if err := printResult(out, method, r); err != nil {
				return err
			}
		case err := <-served:
			return fmt.Errorf("transport ended before result: %w", err)
		case <-time.After(opts.timeout):
			return fmt.Errorf("%w (phase=%s pending=%d)", ErrNoResult, ch.Phase(), ch.PendingLen())
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !opts.waitClose {
		return nil
	}
	select {
	case <-closed:
		log.Info().Str("parent_origin", ch.ParentOrigin()).Msg("blockctl host closed block")
		// Let the queued acknowledgement reach the host.
		time.Sleep(100 * time.Millisecond)
		return nil
	case err := <-served:
		return err
	case <-ctx.Done():
		return nil
	}
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(opts options) (config.BlockConfig, error) {
	cfg := config.DefaultBlockConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadBlockConfig(opts.configPath)
		if err != nil {
			return config.BlockConfig{}, err
		}
		cfg = loaded
	}
	if opts.selfOrigin != "" {
		cfg.Channel.SelfOrigin = opts.selfOrigin
	}
	if opts.hostURL != "" {
		cfg.HostURL = opts.hostURL
	}
	if err := config.ValidateBlockConfig(cfg); err != nil {
		return config.BlockConfig{}, fmt.Errorf("%w (set -config or -self-origin)", err)
	}
	switch opts.transport {
	case "ws", "":
		if cfg.HostURL == "" {
			return config.BlockConfig{}, fmt.Errorf("%w: set -url or host_url", wsport.ErrURLRequired)
		}
	case "stdio":
		if opts.peerOrigin == "" {
			return config.BlockConfig{}, fmt.Errorf("%w: set -peer-origin", streamport.ErrPeerOriginRequired)
		}
	default:
		return config.BlockConfig{}, fmt.Errorf("unknown transport: %s", opts.transport)
	}
	return cfg, nil
}

// openPort returns the transport and the writer results are printed to.
// stdio reserves stdout for the wire.
func openPort(ctx context.Context, opts options, cfg config.BlockConfig) (port, io.Writer, error) {
	switch opts.transport {
	case "ws", "":
		codec, err := wire.CodecByName(cfg.Codec)
		if err != nil {
			return nil, nil, err
		}
		p, err := wsport.Dial(ctx, wsport.DialConfig{
			URL:        cfg.HostURL,
			SelfOrigin: cfg.Channel.SelfOrigin,
			Codec:      codec,
			Session:    cfg.Session,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, os.Stdout, nil
	case "stdio":
		p, err := streamport.New(stdio{Reader: os.Stdin, Writer: os.Stdout}, opts.peerOrigin)
		if err != nil {
			return nil, nil, err
		}
		return p, os.Stderr, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport: %s", opts.transport)
	}
}

// parseOp resolves a named host operation and decodes its JSON payload.
func parseOp(op, rawPayload string) (string, any, error) {
	if op == "" {
		return "", nil, nil
	}
	known := false
	for _, m := range block.Methods() {
		if m == op {
			known = true
			break
		}
	}
	if !known {
		return "", nil, fmt.Errorf("unknown operation: %s", op)
	}
	if rawPayload == "" {
		return op, nil, nil
	}
	var payload any
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return "", nil, fmt.Errorf("parse payload: %w", err)
	}
	return op, payload, nil
}

func printResult(w io.Writer, method string, r session.Result) error {
	if !r.OK() {
		return fmt.Errorf("%s call %d %s", method, r.ID, r.Kind)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"method":  method,
		"id":      r.ID,
		"payload": r.Payload,
	})
}
