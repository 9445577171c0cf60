package inspect

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"taskgrid/internal/coll"
	"taskgrid/internal/runtime"
	"taskgrid/internal/trace"
)

// newTestServer builds a server over a live runtime, an in-memory trace,
// and one empty collective registry.
func newTestServer(t *testing.T) (*Server, *runtime.Runtime, *coll.Registry) {
	t.Helper()

	rec, err := trace.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { rec.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rt, err := runtime.New(runtime.Config{CPUExecutors: 2}, rec, logger)
	if err != nil {
		t.Fatalf("New runtime: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	reg := coll.NewRegistry("test", 0)
	srv := NewServer(":0", rt, rec, []*coll.Registry{reg}, logger)
	return srv, rt, reg
}

// noopHandler is a task handler for tests that only need a launch to exist.
func noopHandler(_ context.Context, _ *runtime.Invocation) (any, error) {
	return nil, nil
}
