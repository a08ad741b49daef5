package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"loom-mcp/internal/jsonrpc"
)

// handshakeTimeout bounds how long construction waits for the SSE stream to
// yield its bootstrap "session"/"endpoint" events.
const handshakeTimeout = 30 * time.Second

// reconnectBackoffMin/Max bound the sleep between SSE reconnect attempts
// after a dropped stream. The sleep cycles through three fixed steps in
// [min, max) by attempt number; it is not randomized.
const (
	reconnectBackoffMin = time.Second
	reconnectBackoffMax = 3 * time.Second
)

// SSEConfig describes the remote MCP endpoint backing an SSETransport.
type SSEConfig struct {
	URL     string
	Headers map[string]string
	// ReverseProxyURL, when set, replaces the connection URL's
	// scheme+host+port as the base that a path-only endpoint event is
	// resolved against. Servers behind a reverse proxy advertise their
	// internal messages path; POSTs still have to go through the proxy.
	ReverseProxyURL string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// SSETransport opens a long-lived SSE GET stream and sends requests as
// individual HTTP POSTs to a "messages URL" discovered during handshake.
// Responses arrive asynchronously on the stream and are routed to waiters
// by request ID.
type SSETransport struct {
	cfg      SSEConfig
	logger   *slog.Logger
	client   *http.Client
	clientID string
	baseURL  *url.URL

	ids     idAllocator
	pending *pendingRegistry

	mu          sync.Mutex
	messagesURL string
	sessionID   string

	handshakeOnce sync.Once
	handshakeCh   chan error

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSSETransport connects to cfg.URL and blocks until the handshake
// completes (messages URL known) or handshakeTimeout elapses.
func NewSSETransport(cfg SSEConfig) (*SSETransport, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sse transport: invalid url %q: %w", cfg.URL, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(ctx)

	t := &SSETransport{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		clientID:    uuid.NewString(),
		baseURL:     base,
		pending:     newPendingRegistry(),
		handshakeCh: make(chan error, 1),
		ctx:         ctx,
		cancel:      cancel,
		g:           g,
	}

	g.Go(func() error { return t.streamLoop(gCtx) })

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()
	select {
	case err := <-t.handshakeCh:
		if err != nil {
			cancel()
			_ = g.Wait()
			return nil, fmt.Errorf("sse transport: handshake: %w", err)
		}
		return t, nil
	case <-timer.C:
		cancel()
		_ = g.Wait()
		return nil, fmt.Errorf("sse transport: handshake: %w", ErrTimeout)
	}
}

func (t *SSETransport) NextID() int64 {
	return t.ids.next()
}

func (t *SSETransport) signalHandshake(err error) {
	t.handshakeOnce.Do(func() { t.handshakeCh <- err })
}

// streamLoop owns the SSE GET connection for the transport's lifetime,
// reconnecting with a short backoff after any disconnect.
func (t *SSETransport) streamLoop(ctx context.Context) error {
	attempt := 0
	for {
		err := t.connectOnce(ctx)
		if ctx.Err() != nil || t.closed.Load() {
			return nil
		}
		attempt++
		t.signalHandshake(err) // no-op after the first call
		t.logger.Warn("sse transport: stream disconnected, reconnecting", "error", err, "attempt", attempt)
		t.pending.failAll(fmt.Errorf("%w: %v", ErrBroken, err))

		backoff := reconnectBackoffMin + time.Duration(attempt%3)*(reconnectBackoffMax-reconnectBackoffMin)/3
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *SSETransport) connectOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("X-CLIENT-ID", t.clientID)
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sse stream: unexpected status %s", resp.Status)
	}

	endpointSeen := false
	return t.readEvents(resp.Body, func(ev sseEvent) {
		switch ev.event {
		case "session":
			t.mu.Lock()
			t.sessionID = ev.data
			t.mu.Unlock()
			t.logger.Info("sse transport: session established", "session_id", ev.data)
		case "endpoint":
			msgURL, err := t.resolveEndpoint(ev.data)
			if err != nil {
				t.logger.Warn("sse transport: unresolvable endpoint event", "data", ev.data, "error", err)
				return
			}
			t.mu.Lock()
			t.messagesURL = msgURL
			t.mu.Unlock()
			if !endpointSeen {
				endpointSeen = true
				t.signalHandshake(nil)
			}
		case "", "message":
			t.routeResponse([]byte(ev.data))
		default:
			t.logger.Debug("sse transport: ignoring unrecognized event", "event", ev.event)
		}
	})
}

func (t *SSETransport) resolveEndpoint(data string) (string, error) {
	parsed, err := url.Parse(data)
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	base := t.baseURL
	if t.cfg.ReverseProxyURL != "" {
		proxyBase, err := url.Parse(t.cfg.ReverseProxyURL)
		if err != nil {
			return "", fmt.Errorf("invalid reverse proxy url %q: %w", t.cfg.ReverseProxyURL, err)
		}
		base = proxyBase
	}
	return base.ResolveReference(parsed).String(), nil
}

func (t *SSETransport) routeResponse(data []byte) {
	id, ok := jsonrpc.IsResponse(data)
	if !ok {
		t.logger.Debug("sse transport: discarding non-response event data", "data", string(data))
		return
	}
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		t.logger.Debug("sse transport: discarding unparseable event data", "error", err)
		return
	}
	if !t.pending.deliver(id, resp) {
		t.logger.Debug("sse transport: response for unknown id dropped", "id", id)
	}
}

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	event string
	data  string
	id    string
}

// readEvents parses body as a sequence of SSE events separated by a blank
// line, invoking handle for each one. Unknown fields and ":"-prefixed
// comment lines are ignored.
func (t *SSETransport) readEvents(body io.Reader, handle func(sseEvent)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var ev sseEvent
	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 && ev.event == "" && ev.id == "" {
			return
		}
		ev.data = strings.Join(dataLines, "\n")
		handle(ev)
		ev = sseEvent{}
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			ev.id = value
		case "retry":
			// Reconnection delay hints are not honored; this client uses
			// its own fixed backoff window.
		default:
			// unrecognized field, ignored per spec.
		}
	}
	flush()
	return scanner.Err()
}

func (t *SSETransport) Send(ctx context.Context, req *jsonrpc.Request, waitForResponse bool) (*jsonrpc.Response, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.mu.Lock()
	msgURL := t.messagesURL
	t.mu.Unlock()
	if msgURL == "" {
		return nil, fmt.Errorf("%w: messages url not yet known", ErrBroken)
	}

	var ch chan pendingResult
	if waitForResponse {
		ch = t.pending.register(req.ID)
	}

	if err := t.post(ctx, msgURL, req); err != nil {
		if waitForResponse {
			t.pending.remove(req.ID)
		}
		return nil, err
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

func (t *SSETransport) Notify(ctx context.Context, n *jsonrpc.Notification) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	msgURL := t.messagesURL
	t.mu.Unlock()
	if msgURL == "" {
		return fmt.Errorf("%w: messages url not yet known", ErrBroken)
	}
	return t.post(ctx, msgURL, n)
}

func (t *SSETransport) post(ctx context.Context, msgURL string, frame any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msgURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CLIENT-ID", t.clientID)
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroken, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: post rejected with status %s", ErrBroken, resp.Status)
	}
	return nil
}

func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.pending.failAll(ErrClosed)
		t.cancel()
		done := make(chan struct{})
		go func() { _ = t.g.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})
	return nil
}
