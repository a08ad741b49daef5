package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"loom-mcp/internal/jsonrpc"
)

// restartBackoff is how long the reader sleeps before respawning the child
// process after an I/O failure.
const restartBackoff = 250 * time.Millisecond

// maxStdoutLine bounds a single line's buffer to guard against a runaway
// child writing an unterminated multi-megabyte line.
const maxStdoutLine = 8 * 1024 * 1024

// StdioConfig describes the child process backing a StdioTransport.
type StdioConfig struct {
	Command string
	Args    []string
	// Env holds additional "KEY=VALUE" entries appended to the child's
	// environment, which otherwise inherits the parent's.
	Env    []string
	Logger *slog.Logger
}

// StdioTransport spawns command as a child process and exchanges one JSON
// frame per line over its stdin/stdout, with stderr drained best-effort.
type StdioTransport struct {
	cfg    StdioConfig
	logger *slog.Logger

	ids     idAllocator
	pending *pendingRegistry

	procMu sync.Mutex // guards cmd/stdin/stdout/stderr across restarts
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeMu sync.Mutex // serializes writes to stdin

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewStdioTransport spawns the child process described by cfg and starts
// its background reader and stderr-drain goroutines.
func NewStdioTransport(cfg StdioConfig) (*StdioTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(ctx)
	t := &StdioTransport{
		cfg:     cfg,
		logger:  logger,
		pending: newPendingRegistry(),
		ctx:     ctx,
		cancel:  cancel,
		g:       g,
	}
	if err := t.spawn(); err != nil {
		cancel()
		return nil, fmt.Errorf("stdio transport: spawn %q: %w", cfg.Command, err)
	}
	g.Go(func() error { return t.readLoop(gCtx) })
	g.Go(func() error { return t.drainStderr(gCtx) })
	return t, nil
}

func (t *StdioTransport) spawn() error {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	t.procMu.Lock()
	t.cmd, t.stdin, t.stdout, t.stderr = cmd, stdin, stdout, stderr
	t.procMu.Unlock()
	return nil
}

// restart replaces the child process exactly once. Callers hold no lock
// across this call; it acquires procMu itself.
func (t *StdioTransport) restart() error {
	t.procMu.Lock()
	old := t.cmd
	t.procMu.Unlock()
	if old != nil {
		_ = old.Process.Kill()
		_ = old.Wait()
	}
	return t.spawn()
}

func (t *StdioTransport) NextID() int64 {
	return t.ids.next()
}

func (t *StdioTransport) Send(ctx context.Context, req *jsonrpc.Request, waitForResponse bool) (*jsonrpc.Response, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	var ch chan pendingResult
	if waitForResponse {
		ch = t.pending.register(req.ID)
	}
	if err := t.writeFrame(req); err != nil {
		if waitForResponse {
			t.pending.remove(req.ID)
		}
		if restartErr := t.restart(); restartErr != nil {
			t.logger.Warn("stdio transport: restart after write failure failed", "error", restartErr)
			return nil, fmt.Errorf("%w: %v", ErrBroken, err)
		}
		t.logger.Warn("stdio transport: restarted child after write failure", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrBroken, err)
	}
	if !waitForResponse {
		return nil, nil
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil
	case <-timer.C:
		t.pending.remove(req.ID)
		return nil, ErrTimeout
	case <-ctx.Done():
		t.pending.remove(req.ID)
		return nil, ctx.Err()
	case <-t.ctx.Done():
		t.pending.remove(req.ID)
		return nil, ErrClosed
	}
}

func (t *StdioTransport) Notify(ctx context.Context, n *jsonrpc.Notification) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.writeFrame(n); err != nil {
		if restartErr := t.restart(); restartErr != nil {
			return fmt.Errorf("%w: %v", ErrBroken, err)
		}
		t.logger.Warn("stdio transport: restarted child after notify write failure", "error", err)
		return fmt.Errorf("%w: %v", ErrBroken, err)
	}
	return nil
}

func (t *StdioTransport) writeFrame(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.procMu.Lock()
	stdin := t.stdin
	t.procMu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop owns the inbound byte stream for the transport's lifetime,
// restarting the child at most once per read failure before giving up.
func (t *StdioTransport) readLoop(ctx context.Context) error {
	for {
		t.procMu.Lock()
		stdout := t.stdout
		t.procMu.Unlock()

		err := t.scanLines(ctx, stdout)
		if ctx.Err() != nil || t.closed.Load() {
			return nil
		}
		if err == nil {
			// stdout closed cleanly (EOF) without a cancellation: treat
			// like any other disconnect and attempt one restart.
			err = io.EOF
		}
		t.logger.Warn("stdio transport: read loop failed, restarting child", "error", err)
		t.pending.failAll(fmt.Errorf("%w: %v", ErrBroken, err))
		time.Sleep(restartBackoff)
		if t.closed.Load() {
			return nil
		}
		if restartErr := t.restart(); restartErr != nil {
			t.logger.Error("stdio transport: restart failed, transport broken", "error", restartErr)
			return restartErr
		}
	}
}

func (t *StdioTransport) scanLines(ctx context.Context, stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdoutLine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		id, ok := jsonrpc.IsResponse(line)
		if !ok {
			// Either a malformed line or a server-to-client
			// request/notification; neither is defined by this client,
			// so it is logged and discarded.
			t.logger.Debug("stdio transport: discarding non-response line", "line", string(line))
			continue
		}
		resp, err := jsonrpc.ParseResponse(line)
		if err != nil {
			t.logger.Debug("stdio transport: discarding unparseable line", "error", err)
			continue
		}
		if !t.pending.deliver(id, resp) {
			t.logger.Debug("stdio transport: response for unknown id dropped", "id", id)
		}
	}
	return scanner.Err()
}

func (t *StdioTransport) drainStderr(ctx context.Context) error {
	for {
		t.procMu.Lock()
		stderr := t.stderr
		t.procMu.Unlock()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Info("stdio transport: child stderr", "line", scanner.Text())
		}
		if ctx.Err() != nil || t.closed.Load() {
			return nil
		}
		// stderr pipe closed, most likely alongside a restart picked up by
		// readLoop; wait briefly for the new pipe to appear.
		time.Sleep(restartBackoff)
		if t.closed.Load() {
			return nil
		}
	}
}

// Close closes stdin first (EOF to the child), joins the wait, then closes
// stdout/stderr and joins background goroutines, each join bounded to one
// second. Safe to call more than once.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.pending.failAll(ErrClosed)

		t.procMu.Lock()
		stdin, cmd := t.stdin, t.cmd
		t.procMu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		if cmd != nil {
			done := make(chan struct{})
			go func() { _ = cmd.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(time.Second):
				_ = cmd.Process.Kill()
			}
		}
		t.cancel()
		done := make(chan struct{})
		go func() { _ = t.g.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})
	return err
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
