package inspect

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskgrid/internal/geom"
	"taskgrid/internal/runtime"
)

func TestEventsStream(t *testing.T) {
	srv, rt, _ := newTestServer(t)

	if err := rt.RegisterTask("test.noop", runtime.VariantCPU, noopHandler); err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The subscription is active once the response headers arrive, so
	// everything published from here on lands in the stream.
	if _, err := rt.NewTask("test.noop", runtime.VariantCPU).Execute(geom.NewRect(1)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := rt.Shutdown(shutCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var kinds []string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: done") {
			sawDone = true
			break
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev runtime.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unmarshal event %q: %v", line, err)
		}
		kinds = append(kinds, ev.Kind)
	}

	if !sawDone {
		t.Errorf("stream ended without a done event (scan error: %v)", scanner.Err())
	}
	// Launch, completion, and the wait fence, in publication order. The
	// shutdown may add one more fence.
	want := []string{runtime.EventLaunch, runtime.EventComplete, runtime.EventFence}
	if len(kinds) < len(want) {
		t.Fatalf("got %d events %v, want at least %d", len(kinds), kinds, len(want))
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("event %d kind = %q, want %q", i, kinds[i], k)
		}
	}
}
