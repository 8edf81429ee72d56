package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input ends before an answer.
var ErrNoInput = errors.New("no input")

// Prompter asks questions on one input stream. Every prompt reads through the
// same buffer, so answers piped in one after another reach the right prompt.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	tty int
}

// NewPrompter reads answers from in and writes questions to out. Passwords
// are read without echo when in is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, tty: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = int(f.Fd())
	}
	return p
}

// Reader returns the buffered input for prompts that scan it themselves.
func (p *Prompter) Reader() io.Reader {
	return p.in
}

// line reads one line without its terminator. A last line without a newline
// still counts.
func (p *Prompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if s == "" {
			return "", ErrNoInput
		}
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Ask prints prompt and returns the trimmed answer.
func (p *Prompter) Ask(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.out, prompt)
	s, err := p.line()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Confirm asks a yes/no question until it gets an answer. The end of the
// input counts as no.
func (p *Prompter) Confirm(prompt string) bool {
	for {
		_, _ = fmt.Fprintf(p.out, "%s (y/n): ", prompt)
		s, err := p.line()
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}

// Password reads a secret, hiding input on a terminal. Inner whitespace is
// kept.
func (p *Prompter) Password(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.out, prompt)

	var secret string
	if p.tty >= 0 {
		raw, err := term.ReadPassword(p.tty)
		_, _ = fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		secret = string(raw)
	} else {
		s, err := p.line()
		if err != nil {
			return "", err
		}
		secret = s
	}

	if secret == "" {
		return "", errors.New("empty password")
	}
	return secret, nil
}
