package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"loom-mcp/internal/jsonrpc"
)

// DockerStdioConfig describes an MCP server reached by exec'ing into an
// already-running container instead of spawning a local child process.
type DockerStdioConfig struct {
	ContainerID string
	Command     []string
	Env         []string
	Logger      *slog.Logger
}

// DockerStdioTransport exchanges newline-delimited JSON frames with a
// process attached via ContainerExecCreate/ContainerExecAttach, giving the
// same duplex stream shape as StdioTransport but backed by a Docker exec
// session, with the same line-framing rules.
type DockerStdioTransport struct {
	cfg    DockerStdioConfig
	logger *slog.Logger
	cli    *client.Client
	execID string

	ids     idAllocator
	pending *pendingRegistry

	writeMu sync.Mutex
	conn    io.Writer
	closer  io.Closer

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDockerStdioTransport creates an exec session in cfg.ContainerID
// running cfg.Command and attaches to its stdin/stdout/stderr.
func NewDockerStdioTransport(cfg DockerStdioConfig) (*DockerStdioTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker stdio transport: new client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	created, err := cli.ContainerExecCreate(ctx, cfg.ContainerID, container.ExecOptions{
		Cmd:          cfg.Command,
		Env:          cfg.Env,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("docker stdio transport: exec create: %w", err)
	}

	attached, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: false})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("docker stdio transport: exec attach: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	t := &DockerStdioTransport{
		cfg:     cfg,
		logger:  logger,
		cli:     cli,
		execID:  created.ID,
		pending: newPendingRegistry(),
		conn:    attached.Conn,
		closer:  attached.Conn,
		ctx:     ctx,
		cancel:  cancel,
		g:       g,
	}

	stdoutR, stdoutW := io.Pipe()
	g.Go(func() error {
		_, err := stdcopy.StdCopy(stdoutW, io.Discard, attached.Reader)
		_ = stdoutW.CloseWithError(err)
		return nil
	})
	g.Go(func() error { return t.readLoop(gCtx, stdoutR) })

	return t, nil
}

func (t *DockerStdioTransport) NextID() int64 {
	return t.ids.next()
}

func (t *DockerStdioTransport) Send(ctx context.Context, req *jsonrpc.Request, waitForResponse bool) (*jsonrpc.Response, error) {
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

func (t *DockerStdioTransport) Notify(ctx context.Context, n *jsonrpc.Notification) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.writeFrame(n); err != nil {
		return fmt.Errorf("%w: %v", ErrBroken, err)
	}
	return nil
}

func (t *DockerStdioTransport) writeFrame(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.conn.Write(append(raw, '\n'))
	return err
}

// readLoop parses demultiplexed stdout as newline-delimited JSON. Unlike
// StdioTransport, a broken exec session cannot be locally restarted (a
// container exec has no equivalent of respawning a local subprocess), so
// any read failure here is fatal and abandons all pending requests.
func (t *DockerStdioTransport) readLoop(ctx context.Context, stdout io.Reader) error {
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
			t.logger.Debug("docker stdio transport: discarding non-response line", "line", string(line))
			continue
		}
		resp, err := jsonrpc.ParseResponse(line)
		if err != nil {
			t.logger.Debug("docker stdio transport: discarding unparseable line", "error", err)
			continue
		}
		if !t.pending.deliver(id, resp) {
			t.logger.Debug("docker stdio transport: response for unknown id dropped", "id", id)
		}
	}
	if ctx.Err() != nil || t.closed.Load() {
		return nil
	}
	err := scanner.Err()
	t.logger.Warn("docker stdio transport: exec stream ended, transport broken", "error", err)
	t.pending.failAll(fmt.Errorf("%w: %v", ErrBroken, err))
	return err
}

func (t *DockerStdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.pending.failAll(ErrClosed)
		_ = t.closer.Close()
		t.cancel()
		_ = t.g.Wait()
		if t.cli != nil {
			_ = t.cli.Close()
		}
	})
	return nil
}
