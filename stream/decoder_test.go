package stream

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

// chunkReader hands out one predefined chunk per Read call.
type chunkReader struct {
	chunks [][]byte
	reads  int
	err    error
	closed bool
}

func newChunkReader(chunks ...string) *chunkReader {
	r := &chunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("read on closed body")
	}
	if r.reads >= len(r.chunks) {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	c := r.chunks[r.reads]
	r.reads++
	return copy(p, c), nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func collect(t *testing.T, r io.Reader) []Frame {
	t.Helper()
	var frames []Frame
	_, _ = Decode(context.Background(), r, func(f Frame) {
		frames = append(frames, f)
	})
	return frames
}

func TestDecodeProgressThenSuccess(t *testing.T) {
	r := newChunkReader("data: Researching topic...\n\ndata: Drafting sections...\n\ndata: Done|draft_42.html\n\n")

	var frames []Frame
	res, err := Decode(context.Background(), r, func(f Frame) {
		frames = append(frames, f)
	})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	assert.Equal(t, frames[0].Kind, Progress)
	assert.Equal(t, frames[0].Text, "Researching topic...")
	assert.Equal(t, frames[1].Kind, Progress)
	assert.Equal(t, frames[1].Text, "Drafting sections...")
	assert.Equal(t, frames[2].Kind, Success)
	assert.Equal(t, res.Locator, "draft_42.html")
	assert.Equal(t, res.Progress, []string{"Researching topic...", "Drafting sections..."})
	for i, f := range frames {
		assert.Equal(t, f.Seq, i+1)
	}
}

func TestDecodeTerminalFailure(t *testing.T) {
	r := newChunkReader("data: Done|Error: quota exceeded\n\n")

	var frames []Frame
	res, err := Decode(context.Background(), r, func(f Frame) {
		frames = append(frames, f)
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want ErrRejected", err)
	}
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("err is %T, want *GenerationError", err)
	}
	assert.Equal(t, gerr.Message, "Error: quota exceeded")
	assert.Equal(t, res.Locator, "")
	assert.Equal(t, len(frames), 1)
	assert.Equal(t, frames[0].Kind, Failure)
}

func TestDecodeLowercaseServiceTokens(t *testing.T) {
	// The service emits "done|error" without a trailing separator on some paths.
	r := newChunkReader("data: LLM failed after 3 attempts.\n\n", "data: done|error")
	res, err := Decode(context.Background(), r, nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	assert.Equal(t, res.Message, "error")
	assert.Equal(t, res.Progress, []string{"LLM failed after 3 attempts."})

	r = newChunkReader("data: done|output.html\n\n")
	res, err = Decode(context.Background(), r, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	assert.Equal(t, res.Locator, "output.html")
}

func TestDecodeChunkBoundaryIndependence(t *testing.T) {
	payload := "data: Received content...\n\n" +
		"data: Starting with brief.pdf\n\n" +
		"garbage without prefix\n\n" +
		"\n\n" +
		"data: Step 1: Converted pdf to html - ünïcödé\n\n" +
		"data: Done|newsletter_7.html\n\n"
	want := collect(t, newChunkReader(payload))
	if len(want) != 5 {
		t.Fatalf("reference decode produced %d frames, want 5", len(want))
	}

	// Every two-way split.
	for i := 0; i <= len(payload); i++ {
		got := collect(t, newChunkReader(payload[:i], payload[i:]))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: frames = %+v, want %+v", i, got, want)
		}
	}

	// Byte at a time.
	var bytewise []string
	for i := 0; i < len(payload); i++ {
		bytewise = append(bytewise, payload[i:i+1])
	}
	if got := collect(t, newChunkReader(bytewise...)); !reflect.DeepEqual(got, want) {
		t.Fatalf("bytewise: frames = %+v, want %+v", got, want)
	}

	// Random chunkings.
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		var chunks []string
		rest := payload
		for len(rest) > 0 {
			k := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:k])
			rest = rest[k:]
		}
		if got := collect(t, newChunkReader(chunks...)); !reflect.DeepEqual(got, want) {
			t.Fatalf("chunks %q: frames = %+v, want %+v", chunks, got, want)
		}
	}
}

func TestDecodeSmallReadBuffer(t *testing.T) {
	payload := "data: one\n\ndata: two\n\ndata: Done|x.html\n\n"
	d := NewDecoderSize(strings.NewReader(payload), 3)
	var texts []string
	for {
		f, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		texts = append(texts, f.Kind.String()+":"+f.Text)
	}
	assert.Equal(t, texts, []string{"progress:one", "progress:two", "success:Done|x.html"})
}

func TestDecodeHaltsOnTerminal(t *testing.T) {
	r := newChunkReader(
		"data: first\n\n",
		"data: Done|draft_42.html\n\ndata: same chunk after terminal\n\n",
		"data: injected later\n\n",
		"data: Done|other.html\n\n",
	)
	calls := 0
	res, err := Decode(context.Background(), r, func(Frame) { calls++ })
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	assert.Equal(t, res.Locator, "draft_42.html")
	assert.Equal(t, calls, 2)
	assert.Equal(t, r.reads, 2)
}

func TestDecoderNextAfterTerminal(t *testing.T) {
	r := newChunkReader("data: Done|a.html\n\n", "data: more\n\n")
	d := NewDecoder(r)
	f, err := d.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	assert.Equal(t, f.Locator, "a.html")
	for i := 0; i < 3; i++ {
		if _, err := d.Next(); err != io.EOF {
			t.Fatalf("Next after terminal = %v, want io.EOF", err)
		}
	}
	assert.Equal(t, r.reads, 1)
}

func TestDecodeMalformedFrameContinues(t *testing.T) {
	r := newChunkReader("data: ok\n\nthis is not a frame\n\ndata: Done|out.html\n\n")
	var kinds []Kind
	res, err := Decode(context.Background(), r, func(f Frame) { kinds = append(kinds, f.Kind) })
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	assert.Equal(t, kinds, []Kind{Progress, Malformed, Success})
	assert.Equal(t, res.Progress, []string{"ok"})
}

func TestDecodeEOFWithoutTerminal(t *testing.T) {
	r := newChunkReader("data: Step 1\n\n", "data: Step 2\n\n")
	res, err := Decode(context.Background(), r, nil)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("err is %T, want *GenerationError", err)
	}
	assert.Equal(t, gerr.Progress, []string{"Step 1", "Step 2"})
	assert.Equal(t, res.Locator, "")
}

func TestDecodeTransportFailureKeepsProgress(t *testing.T) {
	reset := errors.New("connection reset by peer")
	r := newChunkReader("data: Step 1\n\ndata: Step 2\n\ndata: half a fra")
	r.err = reset

	var delivered []string
	_, err := Decode(context.Background(), r, func(f Frame) { delivered = append(delivered, f.Text) })
	if !errors.Is(err, reset) {
		t.Fatalf("err = %v, want %v", err, reset)
	}
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	var gerr *GenerationError
	errors.As(err, &gerr)
	assert.Equal(t, gerr.Progress, []string{"Step 1", "Step 2"})
	assert.Equal(t, delivered, []string{"Step 1", "Step 2"})
}

// blockingReader delivers its first chunk, then blocks until closed.
type blockingReader struct {
	first  []byte
	sent   bool
	closed chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.first), nil
	}
	<-b.closed
	return 0, errors.New("use of closed body")
}

func (b *blockingReader) Close() error {
	close(b.closed)
	return nil
}

func TestDecodeCancelClosesBody(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &blockingReader{first: []byte("data: working\n\n"), closed: make(chan struct{})}

	var seen []string
	_, err := Decode(ctx, r, func(f Frame) {
		seen = append(seen, f.Text)
		cancel()
	})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	assert.Equal(t, seen, []string{"working"})
}
