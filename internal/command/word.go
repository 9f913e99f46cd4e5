package command

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrEmptyWord = errors.New("empty command word")
	ErrBadValue  = errors.New("malformed command value")
)

// Command codes understood by the supervisor.
const (
	CodeLeft     = 'L'
	CodeRight    = 'R'
	CodeStop     = 'X'
	CodeDeadman  = 'q'
	CodeDiagnose = 'd'
)

// Command is a decoded word: one code byte followed by an optional signed
// decimal value.
type Command struct {
	Code  byte
	Value int
	Raw   string
}

func (c Command) String() string {
	return fmt.Sprintf("%c%d", c.Code, c.Value)
}

// ParseWord decodes a word. A malformed value is not fatal: the command is
// returned with Value 0 together with an error wrapping ErrBadValue.
func ParseWord(word string) (Command, error) {
	if word == "" {
		return Command{}, ErrEmptyWord
	}
	cmd := Command{Code: word[0], Raw: word}
	rest := word[1:]
	if rest == "" {
		return cmd, nil
	}
	v, err := strconv.Atoi(rest)
	if err != nil {
		return cmd, fmt.Errorf("%q: %w", word, ErrBadValue)
	}
	cmd.Value = v
	return cmd, nil
}
