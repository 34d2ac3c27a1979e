package command

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner is a scripted Runner for tests. Responses are keyed by the
// joined command line; unmatched commands succeed with empty output. Every
// invocation is recorded so tests can assert on call counts and ordering.
type FakeRunner struct {
	mu sync.Mutex

	// Responses maps a full command line ("nginx -t") to its result.
	Responses map[string]Result

	// Errors maps a full command line to a start error (command never ran).
	Errors map[string]error

	// Calls records every command line in invocation order.
	Calls []string
}

// NewFakeRunner returns an empty FakeRunner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Responses: make(map[string]Result),
		Errors:    make(map[string]error),
	}
}

// Run records the invocation and returns the scripted response.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	line := commandLine(name, args)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, line)

	if err, ok := f.Errors[line]; ok {
		return Result{ExitCode: -1}, err
	}
	if res, ok := f.Responses[line]; ok {
		return res, nil
	}
	return Result{ExitCode: 0}, nil
}

// Stub scripts a response for the exact command line.
func (f *FakeRunner) Stub(line string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[line] = res
}

// CallCount returns how many recorded calls start with the given prefix.
func (f *FakeRunner) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Called reports whether any recorded call starts with the given prefix.
func (f *FakeRunner) Called(prefix string) bool {
	return f.CallCount(prefix) > 0
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
