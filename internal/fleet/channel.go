// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
)

// maxFrameBytes bounds a single envelope frame to guard against a corrupt or
// malicious length prefix forcing an unbounded allocation.
const maxFrameBytes = 16 * 1024 * 1024

// FrameWriter serializes envelopes as 4-byte big-endian length prefix plus a
// goccy/go-json body, onto an underlying io.Writer (a child's stdin, from
// the supervisor's side, or its stdout, from the worker's side). This is
// the duplex message channel's wire substrate named in spec.md §6.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteEnvelope writes one framed, length-prefixed envelope. Frames are
// written atomically with respect to other WriteEnvelope calls on the same
// FrameWriter, preserving per-channel send order (spec.md §5).
func (f *FrameWriter) WriteEnvelope(env envelope.Envelope) error {
	body, err := envelope.Marshal(env)
	if err != nil {
		return fmt.Errorf("fleet: marshal envelope: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(header[:]); err != nil {
		return fmt.Errorf("fleet: write frame header: %w", err)
	}
	if _, err := f.w.Write(body); err != nil {
		return fmt.Errorf("fleet: write frame body: %w", err)
	}
	return nil
}

// FrameReader reads the same framing back into envelopes.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadEnvelope blocks until one complete frame is available and returns the
// decoded envelope. It returns io.EOF when the underlying stream closes
// cleanly between frames.
func (f *FrameReader) ReadEnvelope() (envelope.Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(f.r, header[:]); err != nil {
		return envelope.Envelope{}, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return envelope.Envelope{}, fmt.Errorf("fleet: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return envelope.Envelope{}, fmt.Errorf("fleet: read frame body: %w", err)
	}
	return envelope.Unmarshal(body)
}
