package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/leadchat/pkg/models"
)

// CapturePath is the lead sink route.
const CapturePath = "/api/v1/leads"

// CaptureResponse is the wire shape of the capture endpoint.
type CaptureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	LeadID  string `json:"lead_id,omitempty"`
}

// HTTPSink submits leads to a sink server.
type HTTPSink struct {
	client *resty.Client
}

func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSink{
		client: resty.New().
			SetBaseURL(strings.TrimRight(endpoint, "/")).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
	}
}

func (h *HTTPSink) Submit(ctx context.Context, lead models.Lead) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(&lead).
		Post(CapturePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkFailed, err)
	}

	var out CaptureResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("%w: status %d, malformed response", ErrSinkFailed, resp.StatusCode())
	}
	if resp.IsError() || !out.Success {
		return fmt.Errorf("%w: status %d: %s", ErrSinkFailed, resp.StatusCode(), out.Error)
	}
	return nil
}
