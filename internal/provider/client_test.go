package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	observed := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/a1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		json.NewEncoder(w).Encode(models.Snapshot{
			ProviderID:              "P1",
			TotalMonthlyConsumption: 120,
			CitizenCount:            models.IntPtr(3),
			ObservedAt:              observed,
		})
	})
	mux.HandleFunc("/providers/P1/snapshots", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.Snapshot{
			{AccountID: "a1", TotalMonthlyConsumption: 1, ObservedAt: observed},
			{AccountID: "a2", ProviderID: "P1", TotalMonthlyConsumption: 2, ObservedAt: observed},
		})
	})
	mux.HandleFunc("/accounts/broken/snapshot", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	mux.HandleFunc("/accounts/garbled/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSnapshot(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(config.ProviderConfig{BaseURL: srv.URL + "/"})

	snap, err := c.FetchSnapshot(context.Background(), "a1")
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if snap.AccountID != "a1" {
		t.Errorf("AccountID = %q, want filled from the request", snap.AccountID)
	}
	if snap.TotalMonthlyConsumption != 120 || snap.CitizenCount == nil || *snap.CitizenCount != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestFetchSnapshot_Errors(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(config.ProviderConfig{BaseURL: srv.URL})
	ctx := context.Background()

	tests := []struct {
		name     string
		account  string
		check    func(error) bool
		describe string
	}{
		{"not found", "missing", func(err error) bool { return errors.Is(err, models.ErrNotFound) }, "ErrNotFound"},
		{"server error", "broken", func(err error) bool {
			var re *RemoteError
			return errors.As(err, &re) && re.StatusCode == http.StatusBadGateway && !errors.Is(err, models.ErrNotFound)
		}, "RemoteError 502"},
		{"bad body", "garbled", func(err error) bool { return err != nil }, "decode error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FetchSnapshot(ctx, tt.account)
			if !tt.check(err) {
				t.Errorf("error = %v, want %s", err, tt.describe)
			}
		})
	}
}

func TestFetchProviderSnapshots(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(config.ProviderConfig{BaseURL: srv.URL})

	snaps, err := c.FetchProviderSnapshots(context.Background(), "P1")
	if err != nil {
		t.Fatalf("FetchProviderSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	for _, s := range snaps {
		if s.ProviderID != "P1" {
			t.Errorf("%s ProviderID = %q, want P1", s.AccountID, s.ProviderID)
		}
	}
}

func TestClient_Unconfigured(t *testing.T) {
	c := NewClient(config.ProviderConfig{})
	if _, err := c.FetchSnapshot(context.Background(), "a1"); err == nil {
		t.Error("FetchSnapshot without base URL succeeded")
	}
}
