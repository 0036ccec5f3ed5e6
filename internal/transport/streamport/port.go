// Package streamport carries channel messages as newline-delimited JSON over
// a byte stream such as a pipe or stdio.
package streamport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

const MaxLineBytes = 128 * 1024

var (
	ErrPeerOriginRequired = errors.New("streamport: peer origin required")
	ErrTargetMismatch     = errors.New("streamport: target origin does not match peer")
	ErrMessageTooLarge    = errors.New("streamport: message too large")
)

// Port is one stream bound to a configured peer origin. The stream carries
// no origin of its own, so whoever wires the stream vouches for the peer.
type Port struct {
	r          *bufio.Reader
	w          io.Writer
	peerOrigin string

	writeMu sync.Mutex
}

func New(rw io.ReadWriter, peerOrigin string) (*Port, error) {
	if strings.TrimSpace(peerOrigin) == "" {
		return nil, ErrPeerOriginRequired
	}
	return &Port{
		r:          bufio.NewReaderSize(rw, 4096),
		w:          rw,
		peerOrigin: peerOrigin,
	}, nil
}

func (p *Port) PeerOrigin() string {
	return p.peerOrigin
}

func (p *Port) Post(msg wire.Message, target string) error {
	if target != wire.TargetAny && target != p.peerOrigin {
		return fmt.Errorf("%w: target=%q peer=%q", ErrTargetMismatch, target, p.peerOrigin)
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(line) >= MaxLineBytes {
		return ErrMessageTooLarge
	}
	line = append(line, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.w.Write(line)
	return err
}

// Serve reads lines until EOF or ctx is done. Lines that do not decode, and
// lines over MaxLineBytes, are dropped. Cancelling ctx does not interrupt a
// blocked read; close the underlying stream for that.
func (p *Port) Serve(ctx context.Context, handle func(sender string, msg wire.Message)) error {
	codec := wire.JSONCodec{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := p.readLine()
		if errors.Is(err, ErrMessageTooLarge) {
			log.Debug().Str("peer", p.peerOrigin).Msg("streamport.Port.Serve dropped oversized line")
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		msg, err := codec.Decode(line)
		if err != nil {
			log.Debug().Str("peer", p.peerOrigin).Err(err).Msg("streamport.Port.Serve dropped line")
			continue
		}
		handle(p.peerOrigin, msg)
	}
}

func (p *Port) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := p.r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineBytes {
			if errors.Is(err, bufio.ErrBufferFull) {
				if derr := p.discardLine(); derr != nil {
					return nil, derr
				}
			}
			return nil, ErrMessageTooLarge
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

func (p *Port) discardLine() error {
	for {
		_, err := p.r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
