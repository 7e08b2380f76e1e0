package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadchat/internal/retry"
)

// ChatPath is the relay server route.
const ChatPath = "/api/v1/chat"

// HTTPClient calls a relay server. Any non-success answer, including a
// 200 with an unexpected body, is reported as ErrRelayFailed. Error
// statuses other than 429 are marked permanent for Resilient.
type HTTPClient struct {
	client *resty.Client
	logger zerolog.Logger
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &HTTPClient{
		client: c,
		logger: log.With().Str("component", "relay_client").Logger(),
	}
}

func (h *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(&req).
		Post(ChatPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}

	var out Response
	decodeErr := json.Unmarshal(resp.Body(), &out)

	if resp.StatusCode() != http.StatusOK {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		h.logger.Warn().Int("status", resp.StatusCode()).Str("error", msg).Msg("relay server returned an error")
		err := failure("relay returned status %d: %s", resp.StatusCode(), msg)
		// The server has already retried its model. Only a rate limit
		// is worth resending.
		if resp.StatusCode() != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	if decodeErr != nil {
		return "", failure("malformed relay response: %v", decodeErr)
	}
	if !out.Success || strings.TrimSpace(out.Reply) == "" {
		if out.Error != "" {
			return "", failure("%s", out.Error)
		}
		return "", failure("invalid API response format")
	}
	return out.Reply, nil
}

// Resilient retries transient relay failures with exponential backoff.
type Resilient struct {
	next   ChatRelay
	config retry.Config
	logger zerolog.Logger
}

func NewResilient(next ChatRelay, config retry.Config) *Resilient {
	return &Resilient{
		next:   next,
		config: config,
		logger: log.With().Str("component", "relay_retry").Logger(),
	}
}

func (r *Resilient) Complete(ctx context.Context, req Request) (string, error) {
	var reply string
	result := retry.Do(ctx, r.config, func(ctx context.Context) error {
		out, err := r.next.Complete(ctx, req)
		if err != nil {
			return err
		}
		reply = out
		return nil
	}, &r.logger)

	if result.Success {
		return reply, nil
	}
	if errors.Is(result.LastError, ErrRelayFailed) {
		return "", result.LastError
	}
	return "", fmt.Errorf("%w: %w", ErrRelayFailed, result.LastError)
}
