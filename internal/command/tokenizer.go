package command

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"tankdrive/internal/hardware"
)

const (
	separator = ' '

	// Next polls the stream at this interval while waiting for a word.
	PollInterval = 100 * time.Millisecond
)

// Tokenizer splits a byte stream into words. Any byte outside printable
// ASCII separates words, so CR, LF, tabs and line noise all work as
// delimiters.
type Tokenizer struct {
	stream hardware.ByteStream

	mu    sync.Mutex
	buf   []byte
	words []string
	chunk []byte
}

func NewTokenizer(stream hardware.ByteStream) *Tokenizer {
	return &Tokenizer{
		stream: stream,
		chunk:  make([]byte, 256),
	}
}

func isSeparator(b byte) bool {
	return b < 33 || b > 126
}

// Feed pulls every byte the stream has buffered and queues completed words.
// A word without a trailing separator stays in the buffer.
func (t *Tokenizer) Feed() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feedLocked()
}

func (t *Tokenizer) feedLocked() error {
	n, err := t.stream.Buffered()
	if err != nil {
		return fmt.Errorf("failed to poll command stream: %w", err)
	}
	if n <= 0 {
		return nil
	}

	for n > 0 {
		got, err := t.stream.Read(t.chunk)
		if err != nil {
			return fmt.Errorf("failed to read command stream: %w", err)
		}
		if got == 0 {
			break
		}
		for _, b := range t.chunk[:got] {
			if isSeparator(b) {
				b = separator
			}
			t.buf = append(t.buf, b)
		}
		if n, err = t.stream.Buffered(); err != nil {
			return fmt.Errorf("failed to poll command stream: %w", err)
		}
	}

	for {
		t.buf = bytes.TrimLeft(t.buf, " ")
		k := bytes.IndexByte(t.buf, separator)
		if k < 0 {
			break
		}
		t.words = append(t.words, string(t.buf[:k]))
		t.buf = t.buf[k+1:]
	}
	if len(t.buf) == 0 {
		t.buf = nil
	}
	return nil
}

// Ready feeds and reports whether a word is queued. It never blocks.
func (t *Tokenizer) Ready() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.feedLocked()
	return len(t.words) > 0, err
}

// Pop returns the oldest queued word without touching the stream.
func (t *Tokenizer) Pop() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.words) == 0 {
		return "", false
	}
	w := t.words[0]
	t.words = t.words[1:]
	return w, true
}

// Next waits for a word, checking the stream every PollInterval. It is the
// only blocking call on a tokenizer and must not be used from a timer or
// interrupt callback.
func (t *Tokenizer) Next(ctx context.Context) (string, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		ready, err := t.Ready()
		if err != nil {
			return "", err
		}
		if ready {
			if w, ok := t.Pop(); ok {
				return w, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pending returns the bytes of an incomplete trailing word.
func (t *Tokenizer) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
