package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/viant/jsonrpc"
)

// StdioConfig configures a subprocess transport speaking newline-delimited
// JSON-RPC over stdin/stdout.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env is the complete child environment. The caller is responsible for
	// including PATH; package runners such as npx and uvx resolve through it.
	Env map[string]string

	// Cwd is the working directory for the subprocess; empty inherits.
	Cwd string

	// Errlog receives the subprocess's stderr. When nil, stderr lines are
	// drained into the logger at debug level.
	Errlog io.Writer

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// Stdio communicates with an MCP server running as a subprocess. Messages
// are newline-delimited; the subprocess is spawned by NewStdio and terminated
// by Close.
type Stdio struct {
	config StdioConfig
	logger *slog.Logger
	nextID atomic.Uint64

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	incoming   chan []byte
	stderrDone chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewStdio spawns the configured subprocess and returns a transport bound to
// its pipes. The call returns as soon as the process has started; the remote
// side continues its own initialization independently.
func NewStdio(config StdioConfig) (*Stdio, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connID := uuid.New().String()
	logger = logger.With("transport", "stdio", "connection", connID)

	cmd := exec.Command(config.Command, config.Args...)
	cmd.Env = environ(config.Env)
	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("failed to start %v: %w", config.Command, err)
	}

	ret := &Stdio{
		config:     config,
		logger:     logger,
		cmd:        cmd,
		stdin:      stdin,
		incoming:   make(chan []byte, 16),
		stderrDone: make(chan struct{}),
	}
	go ret.readLoop(bufio.NewReaderSize(stdout, 1<<20))
	go ret.drainStderr(stderr)
	logger.Debug("subprocess started", "command", config.Command, "pid", cmd.Process.Pid)
	return ret, nil
}

// environ flattens the env map into KEY=VALUE pairs, sorted for determinism.
func environ(env map[string]string) []string {
	ret := make([]string, 0, len(env))
	for k, v := range env {
		ret = append(ret, k+"="+v)
	}
	sort.Strings(ret)
	return ret
}

func (t *Stdio) drainStderr(r io.Reader) {
	defer close(t.stderrDone)
	if t.config.Errlog != nil {
		_, _ = io.Copy(t.config.Errlog, r)
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("subprocess stderr", "line", scanner.Text())
	}
}

// readLoop owns the stdout pipe: it delivers newline-delimited messages on
// the incoming channel and closes the channel once the pipe does. Close waits
// for that before calling Wait, which would otherwise tear the pipe down
// under an in-flight read.
func (t *Stdio) readLoop(reader *bufio.Reader) {
	defer close(t.incoming)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.incoming <- line
		}
		if err != nil {
			return
		}
	}
}

// Send writes a request to the subprocess and consumes incoming messages
// until the matching response arrives. The mutex serializes calls; stdio is
// inherently sequential.
func (t *Stdio) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("stdio transport is closed")
	}
	if request.Id == nil {
		request.Id = t.nextID.Add(1)
	}
	wantID, _ := jsonrpc.AsRequestIntId(request.Id)

	data, err := marshalRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write to subprocess stdin: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-t.incoming:
			if !ok {
				return nil, fmt.Errorf("subprocess closed stdout before responding")
			}
			response := &jsonrpc.Response{}
			if err := json.Unmarshal(line, response); err != nil {
				t.logger.Debug("skipping non JSON-RPC line", "line", string(line))
				continue
			}
			gotID, gotOk := jsonrpc.AsRequestIntId(response.Id)
			if gotOk && gotID == wantID {
				return response, nil
			}
			// Server-initiated messages and notifications are not part of
			// this exchange.
			t.logger.Debug("skipping unmatched message", "id", response.Id)
		}
	}
}

// Notify writes a notification to the subprocess; no response is expected.
func (t *Stdio) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("stdio transport is closed")
	}
	data, err := marshalNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// Close terminates the subprocess: stdin is closed to request a graceful
// exit, and the process is killed if it has not exited within five seconds.
// Both output pipes are fully drained before Wait runs. Close is idempotent.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	killed := false
	timeout := time.After(5 * time.Second)
drain:
	for {
		select {
		case _, ok := <-t.incoming:
			if !ok {
				break drain
			}
		case <-timeout:
			t.logger.Warn("subprocess did not exit, killing", "pid", t.cmd.Process.Pid)
			_ = t.cmd.Process.Kill()
			killed = true
		}
	}
	<-t.stderrDone
	err := t.cmd.Wait()
	if killed {
		return nil
	}
	t.logger.Debug("subprocess exited", "pid", t.cmd.Process.Pid)
	return err
}
