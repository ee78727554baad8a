package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-workshop/storage/pkg/log"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/token"
	"github.com/open-workshop/storage/pkg/types"
)

// Manager talks to the workshop manager service. Both calls it makes are
// plain HTTP+JSON: transfer result callbacks and mod access checks.
type Manager struct {
	baseURL          string
	callbackURL      string
	checkAccessToken string
	ttl              time.Duration
	codec            *token.Codec
	httpClient       *http.Client
	logger           zerolog.Logger
}

// New creates a manager client. codec signs callback tokens; an empty
// secret turns callbacks into logged no-ops.
func New(baseURL, callbackURL, checkAccessToken string, ttl time.Duration, codec *token.Codec) *Manager {
	if ttl <= 0 {
		ttl = token.DefaultCallbackTTL
	}
	return &Manager{
		baseURL:          baseURL,
		callbackURL:      callbackURL,
		checkAccessToken: checkAccessToken,
		ttl:              ttl,
		codec:            codec,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log.WithComponent("client"),
	}
}

// PostTransferCallback notifies the manager that a transfer reached a
// terminal state. Delivery is one-shot: failures are logged and counted but
// never retried, and a missing signing secret skips the call entirely.
func (m *Manager) PostTransferCallback(ctx context.Context, payload *types.CallbackPayload) error {
	if !m.codec.HasSecret() {
		m.logger.Warn().Str("job_id", payload.JobID).Msg("no signing secret configured, skipping manager callback")
		metrics.CallbacksTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	signed, err := m.codec.Sign(&token.TransferClaims{JobID: payload.JobID}, token.AudienceManager, m.ttl)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to sign callback token: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.callbackURL, bytes.NewReader(body))
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("callback rejected: HTTP %d", resp.StatusCode)
	}

	metrics.CallbacksTotal.WithLabelValues("delivered").Inc()
	m.logger.Debug().
		Str("job_id", payload.JobID).
		Str("status", string(payload.Status)).
		Msg("manager callback delivered")
	return nil
}

// CheckModAccess asks the manager whether a user may read a mod archive.
// The manager answers with the subset of the requested mod ids the user can
// access; the mod is readable when it survives the round trip.
func (m *Manager) CheckModAccess(ctx context.Context, userID, modID int64) (bool, error) {
	u := fmt.Sprintf("%s/list/mods/access/[%d]?user=%s",
		m.baseURL, modID, url.QueryEscape(fmt.Sprintf("%d", userID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create access request: %w", err)
	}
	if m.checkAccessToken != "" {
		req.Header.Set("x-token", m.checkAccessToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("access check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("access check rejected: HTTP %d", resp.StatusCode)
	}

	var allowed []int64
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&allowed); err != nil {
		return false, fmt.Errorf("failed to parse access response: %w", err)
	}

	for _, id := range allowed {
		if id == modID {
			return true, nil
		}
	}
	return false, nil
}
