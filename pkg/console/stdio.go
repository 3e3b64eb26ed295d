// Package console reads chat input from the user and prints chat output.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"

	"dominicbreuker/lanlink/pkg/config"
)

const prompt = "> "

var nameColor = color.New(color.FgCyan, color.Bold).SprintFunc()

// Stdio reads lines from stdin and writes to stdout. Reading can be
// cancelled, so a blocked read does not outlive the session.
type Stdio struct {
	in     io.Reader
	cancel cancelreader.CancelReader

	mu          sync.Mutex
	out         io.Writer
	interactive bool
}

// NewStdio uses the streams from deps, or the process's own.
func NewStdio(deps *config.Dependencies) *Stdio {
	s := &Stdio{
		in:  config.GetStdinFunc(deps)(),
		out: config.GetStdoutFunc(deps)(),
	}

	if f, ok := s.in.(*os.File); ok {
		s.interactive = term.IsTerminal(int(f.Fd()))
	}

	cr, err := cancelreader.NewReader(s.in)
	if err == nil {
		s.cancel = cr
	}
	return s
}

// Interactive reports whether stdin is a terminal. A prompt is only shown
// then.
func (s *Stdio) Interactive() bool {
	return s.interactive
}

func (s *Stdio) reader() io.Reader {
	if s.cancel != nil {
		return s.cancel
	}
	return s.in
}

// Scan calls handle with every line typed until stdin ends, ctx is done or
// handle fails. Only handle's error is returned.
func (s *Stdio) Scan(ctx context.Context, handle func(line string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	done := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(s.reader())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				done <- nil
				return
			}
		}
		err := sc.Err()
		if errors.Is(err, cancelreader.ErrCanceled) {
			err = nil
		}
		done <- err
	}()

	s.showPrompt()
	for {
		select {
		case line := <-lines:
			if err := handle(line); err != nil {
				return err
			}
			s.showPrompt()
		case err := <-done:
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			return nil
		case <-ctx.Done():
			s.Close()
			return nil
		}
	}
}

// Message prints one chat line. from is highlighted.
func (s *Stdio) Message(from, text string) {
	s.Printf("%s: %s\n", nameColor(from), text)
}

// Printf writes to stdout, keeping the prompt on its own line.
func (s *Stdio) Printf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interactive {
		fmt.Fprint(s.out, "\033[2K\r")
	}
	fmt.Fprintf(s.out, format, a...)
	if s.interactive {
		fmt.Fprint(s.out, prompt)
	}
}

func (s *Stdio) showPrompt() {
	if !s.interactive {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, prompt)
}

// Close cancels a pending read.
func (s *Stdio) Close() error {
	if s.cancel != nil {
		s.cancel.Cancel()
	}
	return nil
}
