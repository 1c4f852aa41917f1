// Package stream decodes the chunked progress stream returned by the
// document service's generate endpoint.
//
// The wire format is a sequence of UTF-8 blocks separated by a blank line,
// each block carrying the "data:" prefix:
//
//	data: Step 1: Converted pdf to html
//
//	data: done|output.html
//
// A block whose payload starts with "done|" is terminal. The field after the
// separator is either a locator (relative path of the generated document) or,
// when it starts with "error", a human readable failure message.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Prefix is stripped from every block before delivery.
	Prefix = "data:"
	// Separator ends a block.
	Separator = "\n\n"
	// TerminalToken and FieldSeparator introduce the terminal block.
	TerminalToken  = "done"
	FieldSeparator = "|"
	// ErrorToken marks a terminal field as a failure message.
	ErrorToken = "error"

	defaultChunkSize = 4 << 10
)

var (
	// ErrGenerationFailed matches every *GenerationError.
	ErrGenerationFailed = errors.New("stream: generation failed")
	// ErrNoResult is returned when the transport closes before a terminal block.
	ErrNoResult = errors.New("stream: ended without a result")
	// ErrRejected is returned when the terminal block carries an error message.
	ErrRejected = errors.New("stream: generation reported an error")
	// ErrAborted is returned when the caller cancels the decode.
	ErrAborted = errors.New("stream: aborted")
)

// Kind classifies a decoded frame.
type Kind int

const (
	Progress Kind = iota
	// Malformed frames lack the prefix. They are delivered and ignored.
	Malformed
	Success
	Failure
)

func (k Kind) String() string {
	switch k {
	case Progress:
		return "progress"
	case Malformed:
		return "malformed"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Frame is one decoded block.
type Frame struct {
	Seq     int
	Kind    Kind
	Text    string
	Locator string
	Message string
}

// Terminal reports whether f ends the stream.
func (f Frame) Terminal() bool {
	return f.Kind == Success || f.Kind == Failure
}

// Result summarizes a finished decode.
type Result struct {
	Locator  string
	Message  string
	Progress []string
}

// GenerationError carries the progress already delivered when a generation
// did not produce a locator.
type GenerationError struct {
	Progress []string
	Message  string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return "generation failed: " + e.Err.Error()
	}
	return ErrGenerationFailed.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// Decoder splits a byte stream into frames. It is lazy (one Read per
// refill), finite and cannot be restarted.
type Decoder struct {
	r     io.Reader
	chunk []byte
	buf   []byte
	queue []Frame
	seq   int

	halted bool // terminal frame decoded, never read again
	done   bool
	err    error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, defaultChunkSize)
}

// NewDecoderSize returns a Decoder that reads at most size bytes per chunk.
func NewDecoderSize(r io.Reader, size int) *Decoder {
	if size <= 0 {
		size = defaultChunkSize
	}
	return &Decoder{r: r, chunk: make([]byte, size)}
}

// Next returns the next frame in arrival order. After the terminal frame,
// or once the reader is exhausted, it returns io.EOF. A transport error is
// returned as is after every frame decoded before it.
func (d *Decoder) Next() (Frame, error) {
	for {
		if len(d.queue) > 0 {
			f := d.queue[0]
			d.queue = d.queue[1:]
			if f.Terminal() {
				d.queue = nil
				d.done = true
				d.err = io.EOF
			}
			return f, nil
		}
		if d.done {
			return Frame{}, d.err
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.split(false)
		}
		if d.halted {
			continue
		}
		if err != nil {
			d.done = true
			d.err = err
			if err == io.EOF {
				d.split(true)
			}
		}
	}
}

// split moves every complete block from buf to the queue. With final set the
// leftover fragment is decoded too.
func (d *Decoder) split(final bool) {
	sep := []byte(Separator)
	for !d.halted {
		i := bytes.Index(d.buf, sep)
		if i < 0 {
			break
		}
		block := d.buf[:i]
		d.buf = d.buf[i+len(sep):]
		d.emit(block)
	}
	if final && !d.halted && len(d.buf) > 0 {
		d.emit(d.buf)
	}
	if d.halted || final {
		d.buf = nil
	}
}

func (d *Decoder) emit(block []byte) {
	raw := strings.Trim(string(block), "\r\n")
	if strings.TrimSpace(raw) == "" {
		return
	}
	d.seq++
	f := parseFrame(raw)
	f.Seq = d.seq
	d.queue = append(d.queue, f)
	if f.Terminal() {
		d.halted = true
	}
}

func parseFrame(raw string) Frame {
	if !strings.HasPrefix(raw, Prefix) {
		return Frame{Kind: Malformed, Text: raw}
	}
	payload := strings.TrimSpace(raw[len(Prefix):])
	head := TerminalToken + FieldSeparator
	if len(payload) < len(head) || !strings.EqualFold(payload[:len(head)], head) {
		return Frame{Kind: Progress, Text: payload}
	}
	field := strings.TrimSpace(payload[len(head):])
	if field == "" || hasFoldPrefix(field, ErrorToken) {
		return Frame{Kind: Failure, Text: payload, Message: field}
	}
	return Frame{Kind: Success, Text: payload, Locator: field}
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Decode drives a Decoder over r and hands every frame to fn in order. It
// returns once a terminal frame is delivered without reading further.
//
// When r is an io.Closer, cancelling ctx closes it so a blocked Read returns.
// A cancelled decode returns ErrAborted and delivers nothing more.
func Decode(ctx context.Context, r io.Reader, fn func(Frame)) (Result, error) {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	var res Result
	d := NewDecoder(r)
	for {
		if ctx.Err() != nil {
			return res, ErrAborted
		}
		f, err := d.Next()
		if ctx.Err() != nil {
			return res, ErrAborted
		}
		if err != nil {
			if err == io.EOF {
				err = ErrNoResult
			}
			return res, &GenerationError{Progress: res.Progress, Err: err}
		}
		if f.Kind == Progress {
			res.Progress = append(res.Progress, f.Text)
		}
		if fn != nil {
			fn(f)
		}
		switch f.Kind {
		case Success:
			res.Locator = f.Locator
			return res, nil
		case Failure:
			res.Message = f.Message
			return res, &GenerationError{Progress: res.Progress, Message: f.Message, Err: ErrRejected}
		}
	}
}
