// Package prompt asks the operator before destructive commands.
package prompt

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

var (
	// ErrAborted is returned when the operator presses Ctrl+C.
	ErrAborted = errors.New("aborted")
	// ErrNotInteractive is returned when stdin is not a terminal and the
	// caller did not pre-approve.
	ErrNotInteractive = errors.New("stdin is not a terminal; pass --yes to confirm non-interactively")
)

// Confirmer asks yes/no questions on the controlling terminal.
type Confirmer struct {
	// AssumeYes answers every question with yes without prompting.
	AssumeYes bool

	isTerminal func() bool
	ask        func(label string) (bool, error)
}

// NewConfirmer returns a Confirmer reading from stdin.
func NewConfirmer(assumeYes bool) *Confirmer {
	return &Confirmer{
		AssumeYes:  assumeYes,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		ask:        ask,
	}
}

// Confirm asks question and reports whether the operator agreed. The
// default answer is no.
func (c *Confirmer) Confirm(ctx context.Context, question string) (bool, error) {
	if c.AssumeYes {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.isTerminal != nil && !c.isTerminal() {
		return false, ErrNotInteractive
	}

	type answer struct {
		ok  bool
		err error
	}
	done := make(chan answer, 1)
	go func() {
		ok, err := c.ask(question)
		done <- answer{ok, err}
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-done:
		return a.ok, a.err
	}
}

func ask(label string) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	result, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	result = strings.ToLower(strings.TrimSpace(result))
	return result == "y" || result == "yes", nil
}
