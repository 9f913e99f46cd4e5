package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"tankdrive/internal/hardware"
)

func drain(t *testing.T, tok *Tokenizer) []string {
	t.Helper()
	var words []string
	for {
		ready, err := tok.Ready()
		if err != nil {
			t.Fatalf("Ready failed: %v", err)
		}
		if !ready {
			return words
		}
		w, _ := tok.Pop()
		words = append(words, w)
	}
}

func TestTokenizerWordOrder(t *testing.T) {
	stream := &hardware.SimStream{}
	tok := NewTokenizer(stream)

	stream.WriteString("L100 X R-50 ")
	words := drain(t, tok)

	want := []string{"L100", "X", "R-50"}
	if len(words) != len(want) {
		t.Fatalf("Expected %v, got %v", want, words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("Word %d: expected %q, got %q", i, want[i], words[i])
		}
	}
}

func TestTokenizerSplitWord(t *testing.T) {
	stream := &hardware.SimStream{}
	tok := NewTokenizer(stream)

	stream.WriteString("L1")
	if ready, _ := tok.Ready(); ready {
		t.Fatal("Expected no word before separator")
	}
	stream.WriteString("00")
	if ready, _ := tok.Ready(); ready {
		t.Fatal("Expected no word before separator")
	}
	if tok.Pending() != "L100" {
		t.Errorf("Expected pending L100, got %q", tok.Pending())
	}

	stream.WriteString("\n")
	words := drain(t, tok)
	if len(words) != 1 || words[0] != "L100" {
		t.Errorf("Expected [L100], got %v", words)
	}
	if tok.Pending() != "" {
		t.Errorf("Expected empty buffer, got %q", tok.Pending())
	}
}

func TestTokenizerNonPrintableSeparates(t *testing.T) {
	stream := &hardware.SimStream{}
	tok := NewTokenizer(stream)

	stream.Write([]byte{0x00, 'L', '5', 0x7f, 'R', '6', '\r', '\n', '\t', 0xff, 'X', 0x01})
	words := drain(t, tok)

	want := []string{"L5", "R6", "X"}
	if len(words) != len(want) {
		t.Fatalf("Expected %v, got %v", want, words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("Word %d: expected %q, got %q", i, want[i], words[i])
		}
	}
}

func TestTokenizerNext(t *testing.T) {
	stream := &hardware.SimStream{}
	tok := NewTokenizer(stream)

	stream.WriteString("q5000 ")
	w, err := tok.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if w != "q5000" {
		t.Errorf("Expected q5000, got %q", w)
	}
}

func TestTokenizerNextHonorsContext(t *testing.T) {
	tok := NewTokenizer(&hardware.SimStream{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := tok.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestParseWord(t *testing.T) {
	tests := []struct {
		word    string
		code    byte
		value   int
		wantErr error
	}{
		{"L100", 'L', 100, nil},
		{"R-50", 'R', -50, nil},
		{"R+50", 'R', 50, nil},
		{"X", 'X', 0, nil},
		{"q30000", 'q', 30000, nil},
		{"d9", 'd', 9, nil},
		{"Lfoo", 'L', 0, ErrBadValue},
		{"L1.5", 'L', 0, ErrBadValue},
		{"L-", 'L', 0, ErrBadValue},
		{"", 0, 0, ErrEmptyWord},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			cmd, err := ParseWord(tt.word)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cmd.Code != tt.code || cmd.Value != tt.value {
				t.Errorf("Expected %c%d, got %c%d", tt.code, tt.value, cmd.Code, cmd.Value)
			}
		})
	}
}
