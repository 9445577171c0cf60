package inspect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskgrid/internal/geom"
	"taskgrid/internal/runtime"
	"taskgrid/internal/trace"
)

func TestListLaunchesPagination(t *testing.T) {
	srv, rt, _ := newTestServer(t)

	if err := rt.RegisterTask("test.noop", runtime.VariantCPU, noopHandler); err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := rt.NewTask("test.noop", runtime.VariantCPU).Execute(geom.NewRect(1)); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/launches?limit=2")
	if err != nil {
		t.Fatalf("GET /v1/launches: %v", err)
	}
	defer resp.Body.Close()

	var body listLaunchesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Launches) != 2 {
		t.Errorf("got %d launches, want 2", len(body.Launches))
	}
	if body.Limit != 2 || body.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want 2/0", body.Limit, body.Offset)
	}

	resp2, err := http.Get(ts.URL + "/v1/launches?limit=2&offset=2")
	if err != nil {
		t.Fatalf("GET /v1/launches page 2: %v", err)
	}
	defer resp2.Body.Close()

	var page2 listLaunchesResponse
	if err := json.NewDecoder(resp2.Body).Decode(&page2); err != nil {
		t.Fatalf("decode page 2: %v", err)
	}
	if len(page2.Launches) != 1 {
		t.Errorf("page 2 got %d launches, want 1", len(page2.Launches))
	}
}

func TestGetLaunch(t *testing.T) {
	srv, rt, _ := newTestServer(t)

	if err := rt.RegisterTask("test.noop", runtime.VariantCPU, noopHandler); err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	if _, err := rt.NewTask("test.noop", runtime.VariantCPU).Execute(geom.NewRect(2)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Find the record through the list endpoint first.
	resp, err := http.Get(ts.URL + "/v1/launches")
	if err != nil {
		t.Fatalf("GET /v1/launches: %v", err)
	}
	var list listLaunchesResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list.Launches) != 1 {
		t.Fatalf("got %d launches, want 1", len(list.Launches))
	}
	id := list.Launches[0].ID

	resp, err = http.Get(ts.URL + "/v1/launches/" + id)
	if err != nil {
		t.Fatalf("GET /v1/launches/%s: %v", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var launch trace.Launch
	if err := json.NewDecoder(resp.Body).Decode(&launch); err != nil {
		t.Fatalf("decode launch: %v", err)
	}
	if launch.Task != "test.noop" || launch.Points != 2 {
		t.Errorf("launch = task %q points %d, want test.noop 2", launch.Task, launch.Points)
	}
	if launch.Status != trace.StatusCompleted {
		t.Errorf("status = %q, want %q", launch.Status, trace.StatusCompleted)
	}
}

func TestGetLaunchNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/launches/no-such-id")
	if err != nil {
		t.Fatalf("GET /v1/launches/no-such-id: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
