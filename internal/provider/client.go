// Package provider fetches current consumption snapshots from the utility
// provider's API on demand.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// Fetcher is the on-demand fetch path used by the create, update and sync entry points.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, accountID string) (models.Snapshot, error)
	FetchProviderSnapshots(ctx context.Context, providerID string) ([]models.Snapshot, error)
}

// Client provides HTTP communication with the provider API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new provider HTTP client.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// FetchSnapshot returns the current statistics of one account.
func (c *Client) FetchSnapshot(ctx context.Context, accountID string) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/snapshot", &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("fetch snapshot for %s: %w", accountID, err)
	}
	if snap.AccountID == "" {
		snap.AccountID = accountID
	}
	return snap, nil
}

// FetchProviderSnapshots returns the current statistics of every account of a provider.
func (c *Client) FetchProviderSnapshots(ctx context.Context, providerID string) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	if err := c.get(ctx, "/providers/"+url.PathEscape(providerID)+"/snapshots", &snaps); err != nil {
		return nil, fmt.Errorf("fetch snapshots for provider %s: %w", providerID, err)
	}
	for i := range snaps {
		if snaps[i].ProviderID == "" {
			snaps[i].ProviderID = providerID
		}
	}
	return snaps, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	if c.baseURL == "" {
		return errors.New("provider base URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RemoteError represents an error from the provider API.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// Is maps a 404 onto models.ErrNotFound.
func (e *RemoteError) Is(target error) bool {
	return target == models.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Ensure interface compliance.
var _ Fetcher = (*Client)(nil)
