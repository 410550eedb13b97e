// Package prompt reads validated answers from an interactive terminal.
// Typing "back" (lower case) at any prompt cancels the current sequence.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/metis-devops/token-dispenser/internal/amount"
)

const backKeyword = "back"

var ErrValidation = errors.New("invalid input")

// Answer is the result of one prompt. Cancelled means the operator asked to
// go back; Value is then the zero value.
type Answer[T any] struct {
	Value     T
	Cancelled bool
}

type readResult struct {
	text string
	err  error
}

// Prompter reads answers line by line. Reads happen on a background
// goroutine so that a waiting prompt returns as soon as its context is done;
// a line typed after that is handed to the next prompt.
type Prompter struct {
	in    *bufio.Reader
	out   io.Writer
	lines chan readResult
	once  sync.Once

	errorColor *color.Color
	labelColor *color.Color
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:         bufio.NewReader(in),
		out:        out,
		lines:      make(chan readResult),
		errorColor: color.New(color.FgRed),
		labelColor: color.New(color.FgCyan),
	}
}

func (p *Prompter) Out() io.Writer { return p.out }

func (p *Prompter) readLines() {
	defer close(p.lines)
	for {
		text, err := p.in.ReadString('\n')
		p.lines <- readResult{text: text, err: err}
		if err != nil {
			return
		}
	}
}

// line asks once. It returns cancelled=true on "back".
func (p *Prompter) line(ctx context.Context, label string) (string, bool, error) {
	p.once.Do(func() { go p.readLines() })

	p.labelColor.Fprintf(p.out, "%s: ", label)
	var res readResult
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", false, ctx.Err()
	case r, ok := <-p.lines:
		if !ok {
			return "", false, io.EOF
		}
		res = r
	}
	if res.err != nil && (!errors.Is(res.err, io.EOF) || res.text == "") {
		return "", false, res.err
	}
	text := strings.TrimSpace(res.text)
	if text == backKeyword {
		return "", true, nil
	}
	return text, false, nil
}

// ask repeats the question until parse accepts the answer.
func ask[T any](ctx context.Context, p *Prompter, label string, parse func(string) (T, error)) (Answer[T], error) {
	for {
		text, back, err := p.line(ctx, label)
		if err != nil {
			return Answer[T]{}, err
		}
		if back {
			return Answer[T]{Cancelled: true}, nil
		}
		v, err := parse(text)
		if err != nil {
			p.errorColor.Fprintf(p.out, "%v, try again (or type %q)\n", err, backKeyword)
			continue
		}
		return Answer[T]{Value: v}, nil
	}
}

// Text asks for a non-empty string.
func (p *Prompter) Text(ctx context.Context, label string) (Answer[string], error) {
	return ask(ctx, p, label, func(s string) (string, error) {
		if s == "" {
			return "", fmt.Errorf("%w: value is required", ErrValidation)
		}
		return s, nil
	})
}

// PositiveInt asks for an integer greater than zero.
func (p *Prompter) PositiveInt(ctx context.Context, label string) (Answer[int], error) {
	return p.IntRange(ctx, label, 1, int(^uint(0)>>1))
}

// IntRange asks for an integer in [lo, hi].
func (p *Prompter) IntRange(ctx context.Context, label string, lo, hi int) (Answer[int], error) {
	return ask(ctx, p, label, func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a whole number", ErrValidation, s)
		}
		if n < lo || n > hi {
			return 0, fmt.Errorf("%w: %d is out of range [%d, %d]", ErrValidation, n, lo, hi)
		}
		return n, nil
	})
}

// PositiveAmount asks for a decimal number greater than zero and returns it
// as typed.
func (p *Prompter) PositiveAmount(ctx context.Context, label string) (Answer[string], error) {
	return ask(ctx, p, label, func(s string) (string, error) {
		if _, err := amount.Parse(s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return s, nil
	})
}

// Choose prints a numbered menu and returns the index of the picked option.
func (p *Prompter) Choose(ctx context.Context, title string, options []string) (int, error) {
	fmt.Fprintln(p.out)
	color.New(color.Bold).Fprintln(p.out, title)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, o)
	}
	for {
		text, _, err := p.line(ctx, "Select")
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(text)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		p.errorColor.Fprintf(p.out, "choose a number between 1 and %d\n", len(options))
	}
}

func (p *Prompter) Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(p.out, format+"\n", args...)
}

func (p *Prompter) Warn(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(p.out, format+"\n", args...)
}

func (p *Prompter) Error(format string, args ...interface{}) {
	p.errorColor.Fprintf(p.out, format+"\n", args...)
}
