package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner is a scripted CommandRunner for tests. Responses are matched
// by command name; unmatched commands succeed with empty output.
type FakeRunner struct {
	mu sync.Mutex

	// Responses maps a command name (or "name arg0") to a canned response.
	Responses map[string]FakeResponse

	// queues holds ordered responses consumed before Responses is consulted.
	queues map[string][]FakeResponse

	// Calls records every invocation in order.
	Calls []FakeCall

	// Missing lists binaries LookPath should report as absent.
	Missing []string
}

// FakeResponse is a canned command result.
type FakeResponse struct {
	Output []byte
	Err    error
}

// FakeCall records one invocation.
type FakeCall struct {
	WorkDir string
	Name    string
	Args    []string
	Env     []string
	Input   []byte
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: make(map[string]FakeResponse)}
}

// Respond registers a canned response for the given command key.
// The key is either the bare command name ("make") or the name plus
// first argument ("make -j1").
func (r *FakeRunner) Respond(key string, output string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses[key] = FakeResponse{Output: []byte(output), Err: err}
}

// RespondQueue registers ordered responses for a command key; each call
// consumes one. When the queue drains, Responses applies again.
func (r *FakeRunner) RespondQueue(key string, responses ...FakeResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues == nil {
		r.queues = make(map[string][]FakeResponse)
	}
	r.queues[key] = append(r.queues[key], responses...)
}

func (r *FakeRunner) record(call FakeCall) FakeResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, call)

	keys := []string{call.Name}
	if len(call.Args) > 0 {
		keys = append([]string{call.Name + " " + call.Args[0]}, keys...)
	}
	for _, key := range keys {
		if q, ok := r.queues[key]; ok && len(q) > 0 {
			resp := q[0]
			r.queues[key] = q[1:]
			return resp
		}
	}

	if len(call.Args) > 0 {
		if resp, ok := r.Responses[call.Name+" "+call.Args[0]]; ok {
			return resp
		}
	}
	if resp, ok := r.Responses[call.Name]; ok {
		return resp
	}
	return FakeResponse{}
}

// Run implements CommandRunner.
func (r *FakeRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	resp := r.record(FakeCall{WorkDir: workDir, Name: name, Args: args})
	return resp.Output, resp.Err
}

// RunEnv implements CommandRunner.
func (r *FakeRunner) RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	resp := r.record(FakeCall{WorkDir: workDir, Name: name, Args: args, Env: env})
	return resp.Output, resp.Err
}

// RunInput implements CommandRunner.
func (r *FakeRunner) RunInput(ctx context.Context, workDir string, input []byte, name string, args ...string) ([]byte, error) {
	resp := r.record(FakeCall{WorkDir: workDir, Name: name, Args: args, Input: input})
	return resp.Output, resp.Err
}

// LookPath implements CommandRunner.
func (r *FakeRunner) LookPath(name string) bool {
	for _, m := range r.Missing {
		if m == name {
			return false
		}
	}
	return true
}

// CommandLines returns the recorded calls rendered as shell-like lines,
// for assertions in tests.
func (r *FakeRunner) CommandLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		lines = append(lines, strings.TrimSpace(fmt.Sprintf("%s %s", c.Name, strings.Join(c.Args, " "))))
	}
	return lines
}

// Verify FakeRunner implements CommandRunner at compile time.
var _ CommandRunner = (*FakeRunner)(nil)
