// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/zstd"
)

const (
	frameHeaderSize = 5
	flagCompressed  = 1 << 0

	// MaxFrameSize bounds a single message on the wire.
	MaxFrameSize = 1 << 30
)

// Channel carries messages over a byte stream. Each message is one frame: a
// 4-byte big-endian payload length, a flags byte, and the payload, which is
// the Arrow IPC stream of the message, optionally zstd-compressed.
//
// Send and Receive may be called from different goroutines, but two
// concurrent Sends (or Receives) are serialized.
type Channel struct {
	r   *bufio.Reader
	w   io.Writer
	c   io.Closer
	mem memory.Allocator

	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder

	sendMu sync.Mutex
	recvMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithCompression compresses outgoing frames with zstd. Incoming frames are
// decompressed whenever their flag says so, regardless of this option.
func WithCompression(enabled bool) ChannelOption {
	return func(c *Channel) { c.compress = enabled }
}

// WithAllocator sets the allocator used for Arrow buffers while encoding and
// decoding messages. The default is memory.DefaultAllocator.
func WithAllocator(mem memory.Allocator) ChannelOption {
	return func(c *Channel) { c.mem = mem }
}

// WithCloser sets what Close closes, typically the underlying connection or
// process pipes.
func WithCloser(closer io.Closer) ChannelOption {
	return func(c *Channel) { c.c = closer }
}

// NewChannel creates a channel reading frames from r and writing them to w.
func NewChannel(r io.Reader, w io.Writer, opts ...ChannelOption) *Channel {
	c := &Channel{
		r:   bufio.NewReader(r),
		w:   w,
		mem: memory.DefaultAllocator,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send writes one message.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, c.mem, msg); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	payload := buf.Bytes()

	var flags byte
	if c.compress {
		enc, err := c.encoder()
		if err != nil {
			return &TransportError{Op: "send", Err: err}
		}
		payload = enc.EncodeAll(payload, nil)
		flags |= flagCompressed
	}
	if len(payload) > MaxFrameSize {
		return &TransportError{Op: "send", Err: fmt.Errorf("message of %d bytes exceeds frame limit", len(payload))}
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = flags

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.w.Write(header[:]); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if _, err := c.w.Write(payload); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if f, ok := c.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return &TransportError{Op: "send", Err: err}
		}
	}
	return nil
}

// Receive reads one message. It returns ErrChannelClosed when the peer
// closed the stream at a message boundary and a *TransportError for any
// other failure.
func (c *Channel) Receive(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrChannelClosed
		}
		return nil, &TransportError{Op: "receive", Err: err}
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > MaxFrameSize {
		return nil, &TransportError{Op: "receive", Err: fmt.Errorf("frame of %d bytes exceeds limit", size)}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}

	if header[4]&flagCompressed != 0 {
		dec, err := c.decoder()
		if err != nil {
			return nil, &TransportError{Op: "receive", Err: err}
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, &TransportError{Op: "receive", Err: fmt.Errorf("decompressing frame: %w", err)}
		}
	}

	msg, err := ReadMessage(bytes.NewReader(payload), c.mem)
	if err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}
	return msg, nil
}

// Close closes the underlying stream, if a closer was configured, and frees
// the codec state. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if c.enc != nil {
			c.enc.Close()
		}
		if c.dec != nil {
			c.dec.Close()
		}
		if c.c != nil {
			c.closeErr = c.c.Close()
		}
	})
	return c.closeErr
}

// encoder lazily creates the zstd encoder. EncodeAll may be called
// concurrently on the result.
func (c *Channel) encoder() (*zstd.Encoder, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.enc == nil {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		c.enc = enc
	}
	return c.enc, nil
}

// decoder is called with recvMu held.
func (c *Channel) decoder() (*zstd.Decoder, error) {
	if c.dec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		c.dec = dec
	}
	return c.dec, nil
}
