// Package vault provides clients for the external collaborators: the
// storage-lock action and the proof registry.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
)

// ErrDisabled is returned by clients built without an endpoint.
var ErrDisabled = errors.New("vault endpoint not configured")

// Locker locks the encrypted storage.
type Locker interface {
	Lock(ctx context.Context, reason string) error
}

// ProofRegistry looks up an existing proof for a counterparty and category.
type ProofRegistry interface {
	Lookup(ctx context.Context, counterparty string, category model.DataCategory) (ref string, found bool, err error)
}

// LockerFunc adapts a function to Locker.
type LockerFunc func(ctx context.Context, reason string) error

func (f LockerFunc) Lock(ctx context.Context, reason string) error { return f(ctx, reason) }

// --- HTTP lock client ---

// HTTPLocker posts lock requests to a storage service.
type HTTPLocker struct {
	url    string
	token  string
	client *http.Client
}

type lockRequest struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// NewHTTPLocker creates a lock client posting to endpoint.
func NewHTTPLocker(endpoint, token string, timeout time.Duration) *HTTPLocker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLocker{
		url:    endpoint,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (l *HTTPLocker) Lock(ctx context.Context, reason string) error {
	body, _ := json.Marshal(lockRequest{Reason: reason, At: time.Now().UTC()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("lock request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("lock error %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// --- HTTP proof registry ---

// HTTPProofRegistry queries a proof registry over HTTP.
type HTTPProofRegistry struct {
	baseURL string
	token   string
	client  *http.Client
}

type proofResponse struct {
	Ref string `json:"ref"`
}

// NewHTTPProofRegistry creates a registry client rooted at baseURL.
func NewHTTPProofRegistry(baseURL, token string, timeout time.Duration) *HTTPProofRegistry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProofRegistry{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup asks the registry for a proof. A 404 means no proof exists.
func (r *HTTPProofRegistry) Lookup(ctx context.Context, counterparty string, category model.DataCategory) (string, bool, error) {
	q := url.Values{}
	q.Set("counterparty", counterparty)
	q.Set("category", category.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/proofs?"+q.Encode(), nil)
	if err != nil {
		return "", false, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("proof lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("proof registry error %d: %s", resp.StatusCode, string(b))
	}

	var result proofResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, err
	}
	return result.Ref, result.Ref != "", nil
}

// --- Factory ---

// NewFromConfig builds the configured collaborators. Either return value is
// nil when its URL is empty.
func NewFromConfig(cfg config.VaultConfig) (Locker, ProofRegistry) {
	timeout := config.Seconds(cfg.TimeoutSec)
	var (
		locker Locker
		proofs ProofRegistry
	)
	if cfg.LockURL != "" {
		locker = NewHTTPLocker(cfg.LockURL, cfg.Token, timeout)
	}
	if cfg.ProofURL != "" {
		proofs = NewHTTPProofRegistry(cfg.ProofURL, cfg.Token, timeout)
	}
	return locker, proofs
}
