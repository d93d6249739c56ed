package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/backend"
)

func newAdapter(t *testing.T, url string) *backend.HTTPAdapter {
	t.Helper()
	a, err := backend.NewHTTPAdapter(backend.HTTPAdapterConfig{
		BackendID:   "provider-a",
		BaseURL:     url,
		CostPerCall: 0.25,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestDispatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dispatch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("X-Billed-Cost", "0.10")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := newAdapter(t, srv.URL).Dispatch(context.Background(), []byte(`{"q":1}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(resp.Payload) != `{"ok":true}` {
		t.Fatalf("unexpected payload %q", resp.Payload)
	}
	if resp.ActualCost != 0.10 {
		t.Fatalf("want billed cost from header, got %v", resp.ActualCost)
	}
}

func TestDispatchFallsBackToEstimateWithoutBillingHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	resp, err := newAdapter(t, srv.URL).Dispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.ActualCost != 0.25 {
		t.Fatalf("want estimate 0.25, got %v", resp.ActualCost)
	}
}

func TestServerErrorIsTransientWithMeteredCost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Billed-Cost", "0.05")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newAdapter(t, srv.URL).Dispatch(context.Background(), nil)
	var be *backend.Error
	if !errors.As(err, &be) {
		t.Fatalf("want backend.Error, got %v", err)
	}
	if be.Kind != backend.Transient {
		t.Fatalf("5xx must be transient, got %s", be.Kind)
	}
	if be.MeteredCost != 0.05 {
		t.Fatalf("partial billing must be surfaced, got %v", be.MeteredCost)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newAdapter(t, srv.URL).Dispatch(context.Background(), nil)
	if !backend.IsPermanent(err) {
		t.Fatalf("4xx must be permanent, got %v", err)
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newAdapter(t, srv.URL).Dispatch(ctx, nil)
	var be *backend.Error
	if !errors.As(err, &be) || be.Kind != backend.Transient {
		t.Fatalf("timeout must be a transient backend error, got %v", err)
	}
}
