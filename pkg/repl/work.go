package repl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HelpText is the reply to help and ?.
const HelpText = "available commands: add, ping, help (or ?), quit"

// Work is a parsed command. The set is closed: Add, Ping and Help.
type Work interface {
	// Verb is the command word, used for metrics and tracing
	Verb() string
	work()
}

// Add sums two unsigned 32-bit numbers.
type Add struct {
	A, B uint32
}

// Ping bumps and reports the worker's ping counter.
type Ping struct{}

// Help reports HelpText.
type Help struct{}

func (Add) Verb() string  { return "add" }
func (Ping) Verb() string { return "ping" }
func (Help) Verb() string { return "help" }

func (Add) work()  {}
func (Ping) work() {}
func (Help) work() {}

// ErrUnknownCommand is wrapped by a ParseError whose input matches no
// command shape.
var ErrUnknownCommand = errors.New("unsupported or malformed command string")

// ParseError describes input that is not a valid command.
type ParseError struct {
	Input string
	// Err is ErrUnknownCommand, or the strconv error for a bad number
	Err error
}

func (e *ParseError) Error() string {
	if errors.Is(e.Err, ErrUnknownCommand) {
		return fmt.Sprintf("%v '%s'", ErrUnknownCommand, e.Input)
	}
	return fmt.Sprintf("malformed command string '%s': %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseWork turns raw into a Work. raw is split on ASCII whitespace and
// matched exactly: "add A B" with A and B base-10 uint32, "ping", "help"
// or "?". Anything else yields a *ParseError.
func ParseWork(raw string) (Work, error) {
	words := strings.FieldsFunc(raw, isASCIISpace)

	switch {
	case len(words) == 3 && words[0] == "add":
		a, err := strconv.ParseUint(words[1], 10, 32)
		if err != nil {
			return nil, &ParseError{Input: raw, Err: err}
		}
		b, err := strconv.ParseUint(words[2], 10, 32)
		if err != nil {
			return nil, &ParseError{Input: raw, Err: err}
		}
		return Add{A: uint32(a), B: uint32(b)}, nil
	case len(words) == 1 && words[0] == "ping":
		return Ping{}, nil
	case len(words) == 1 && (words[0] == "help" || words[0] == "?"):
		return Help{}, nil
	}

	return nil, &ParseError{Input: raw, Err: ErrUnknownCommand}
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\f', '\r':
		return true
	}
	return false
}
