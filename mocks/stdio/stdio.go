// Package stdio provides an in-memory terminal for command tests.
package stdio

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockStdio feeds typed lines to a command and records what it prints.
type MockStdio struct {
	stdinReader *io.PipeReader
	stdinWriter *io.PipeWriter

	mu         sync.Mutex
	output     bytes.Buffer
	outputCond *sync.Cond
}

// NewMockStdio creates an empty terminal.
func NewMockStdio() *MockStdio {
	r, w := io.Pipe()
	m := &MockStdio{stdinReader: r, stdinWriter: w}
	m.outputCond = sync.NewCond(&m.mu)
	return m
}

// Stdin returns the reader end of the typed input.
func (m *MockStdio) Stdin() io.Reader { return m.stdinReader }

// Stdout returns a writer that records output.
func (m *MockStdio) Stdout() io.Writer { return (*outputWriter)(m) }

// TypeLine simulates the user entering line.
func (m *MockStdio) TypeLine(line string) error {
	_, err := m.stdinWriter.Write([]byte(line + "\n"))
	return err
}

// Output returns everything printed so far.
func (m *MockStdio) Output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output.String()
}

// WaitForOutput waits until expected has been printed. The timeout is
// specified in milliseconds.
func (m *MockStdio) WaitForOutput(expected string, timeoutMs int) error {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if strings.Contains(m.output.String(), expected) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for output %q, got: %q", expected, m.output.String())
		}

		go func() {
			time.Sleep(50 * time.Millisecond)
			m.outputCond.Broadcast()
		}()
		m.outputCond.Wait()
	}
}

// Close ends the input stream as if the user pressed Ctrl-D.
func (m *MockStdio) Close() error {
	return m.stdinWriter.Close()
}

type outputWriter MockStdio

func (w *outputWriter) Write(p []byte) (int, error) {
	m := (*MockStdio)(w)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.output.Write(p)
	m.outputCond.Broadcast()
	return n, err
}
