// Package prompt handles interactive selection with no-prompt mode support.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sentinel errors for prompt operations.
var (
	ErrSelectionCancelled = errors.New("selection cancelled")
	ErrNoPromptMode       = errors.New("interactive prompts disabled (--no-prompt / -y)")
	ErrNoItems            = errors.New("nothing to choose from")
	ErrNoMatches          = errors.New("nothing matches the filter")
)

// Selector lets the user narrow Items by a filter and pick one by number.
type Selector[T any] struct {
	Items []T
	// Label renders an item; the filter matches against it.
	Label    func(T) string
	Prompt   string
	Reader   io.Reader
	Writer   io.Writer
	NoPrompt bool
}

// Run executes the selection prompt.
// If NoPrompt is true, returns ErrNoPromptMode.
// A single item, or a filter matching a single item, is selected without asking.
func (s *Selector[T]) Run() (T, error) {
	var zero T
	if s.NoPrompt {
		return zero, ErrNoPromptMode
	}
	if len(s.Items) == 0 {
		return zero, ErrNoItems
	}
	if len(s.Items) == 1 {
		return s.Items[0], nil
	}

	writer := s.Writer
	if writer == nil {
		writer = io.Discard
	}
	scanner := bufio.NewScanner(s.Reader)

	_, _ = fmt.Fprintf(writer, "%s\nFilter (or press Enter to show all): ", s.Prompt)
	if !scanner.Scan() {
		return zero, ErrSelectionCancelled
	}
	filtered := s.filter(strings.TrimSpace(scanner.Text()))
	if len(filtered) == 0 {
		return zero, ErrNoMatches
	}
	if len(filtered) == 1 {
		_, _ = fmt.Fprintf(writer, "Auto-selected: %s\n", s.Label(filtered[0]))
		return filtered[0], nil
	}

	for i, item := range filtered {
		_, _ = fmt.Fprintf(writer, "  %d) %s\n", i+1, s.Label(item))
	}
	_, _ = fmt.Fprintf(writer, "Select (0 to cancel): ")
	if !scanner.Scan() {
		return zero, ErrSelectionCancelled
	}

	input := strings.TrimSpace(scanner.Text())
	num, err := strconv.Atoi(input)
	if err != nil {
		return zero, fmt.Errorf("invalid selection: %s", input)
	}
	if num == 0 {
		return zero, ErrSelectionCancelled
	}
	if num < 1 || num > len(filtered) {
		return zero, fmt.Errorf("selection out of range: %d", num)
	}
	return filtered[num-1], nil
}

// filter keeps the items whose label contains text, ignoring case.
func (s *Selector[T]) filter(text string) []T {
	if text == "" {
		return s.Items
	}
	text = strings.ToLower(text)
	var out []T
	for _, item := range s.Items {
		if strings.Contains(strings.ToLower(s.Label(item)), text) {
			out = append(out, item)
		}
	}
	return out
}
