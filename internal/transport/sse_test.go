package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"loom-mcp/internal/jsonrpc"
)

func TestSSETransportResolveEndpointPath(t *testing.T) {
	base, err := url.Parse("https://h:443/mcp/sse")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	tr := &SSETransport{baseURL: base}

	got, err := tr.resolveEndpoint("/mcp/msg?sid=S-abc")
	if err != nil {
		t.Fatalf("resolveEndpoint: %v", err)
	}
	if want := "https://h:443/mcp/msg?sid=S-abc"; got != want {
		t.Fatalf("resolveEndpoint = %q, want %q", got, want)
	}
}

func TestSSETransportResolveEndpointViaReverseProxy(t *testing.T) {
	base, err := url.Parse("http://internal:8080/sse")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	tr := &SSETransport{
		baseURL: base,
		cfg:     SSEConfig{ReverseProxyURL: "https://public.example.com"},
	}

	got, err := tr.resolveEndpoint("/mcp/msg?sid=S-abc")
	if err != nil {
		t.Fatalf("resolveEndpoint: %v", err)
	}
	if want := "https://public.example.com/mcp/msg?sid=S-abc"; got != want {
		t.Fatalf("resolveEndpoint = %q, want %q", got, want)
	}
}

func TestSSETransportResolveEndpointAbsolute(t *testing.T) {
	base, err := url.Parse("https://h:443/mcp/sse")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	tr := &SSETransport{baseURL: base}

	got, err := tr.resolveEndpoint("https://other:9000/msg")
	if err != nil {
		t.Fatalf("resolveEndpoint: %v", err)
	}
	if want := "https://other:9000/msg"; got != want {
		t.Fatalf("resolveEndpoint = %q, want %q", got, want)
	}
}

// newSSEFixture wires an httptest server that streams a bootstrap
// session/endpoint handshake, then echoes every POSTed request's id back
// on the SSE stream as a JSON-RPC result.
func newSSEFixture(t *testing.T) *httptest.Server {
	t.Helper()
	respond := make(chan string, 16)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: session\ndata: S-abc\n\n")
		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()
		for {
			select {
			case data := <-respond:
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var body []byte
		for scanner.Scan() {
			body = append(body, scanner.Bytes()...)
		}
		var env struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"echo":true}}`, env.ID)
		respond <- resp
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSSETransportHandshakeAndRoundTrip(t *testing.T) {
	srv := newSSEFixture(t)

	tr, err := NewSSETransport(SSEConfig{URL: srv.URL + "/events"})
	if err != nil {
		t.Fatalf("NewSSETransport: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := jsonrpc.NewRequest(tr.NextID(), "ping", map[string]any{})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := tr.Send(ctx, req, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != req.ID {
		t.Fatalf("resp.ID = %d, want %d", resp.ID, req.ID)
	}
	if string(resp.Result) != `{"echo":true}` {
		t.Fatalf("resp.Result = %s, want {\"echo\":true}", resp.Result)
	}
}
