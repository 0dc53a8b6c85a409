package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock records every command it is asked to run. SideEffect decides the output; without one
// every command succeeds with no output.
type Mock struct {
	SideEffect func(command string, args ...string) ([]byte, error)
	// Missing lists commands LookPath reports as absent.
	Missing []string

	mu   sync.Mutex
	cmds [][]string
}

// NewMock returns a Mock with no side effect.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Run(command string, args ...string) ([]byte, error) {
	return m.RunContext(context.Background(), command, args...)
}

func (m *Mock) RunContext(ctx context.Context, command string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.cmds = append(m.cmds, append([]string{command}, args...))
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SideEffect != nil {
		return m.SideEffect(command, args...)
	}
	return nil, nil
}

func (m *Mock) LookPath(command string) bool {
	for _, c := range m.Missing {
		if c == command {
			return false
		}
	}
	return true
}

// Cmds returns the recorded commands, each with its arguments.
func (m *Mock) Cmds() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.cmds))
	copy(out, m.cmds)
	return out
}

// Count returns how many recorded commands start with prefix.
func (m *Mock) Count(prefix ...string) int {
	n := 0
	for _, cmd := range m.Cmds() {
		if hasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

// ClearCmds forgets the recorded commands.
func (m *Mock) ClearCmds() {
	m.mu.Lock()
	m.cmds = nil
	m.mu.Unlock()
}

// CmdsMatch checks that the recorded commands start with the expected ones, in order.
func (m *Mock) CmdsMatch(expected [][]string) error {
	got := m.Cmds()
	if len(got) != len(expected) {
		return fmt.Errorf("expected %d commands, got %d: %v", len(expected), len(got), got)
	}
	for i, want := range expected {
		if !hasPrefix(got[i], want) {
			return fmt.Errorf("command %d: expected %q, got %q", i, strings.Join(want, " "), strings.Join(got[i], " "))
		}
	}
	return nil
}

func hasPrefix(cmd, prefix []string) bool {
	if len(prefix) > len(cmd) {
		return false
	}
	for i := range prefix {
		if cmd[i] != prefix[i] {
			return false
		}
	}
	return true
}
