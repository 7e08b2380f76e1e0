package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     false,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if !config.Jitter {
		t.Error("Expected Jitter=true")
	}
}

func TestRelayConfig(t *testing.T) {
	config := RelayConfig(2)
	if config.MaxRetries != 2 {
		t.Errorf("Expected MaxRetries=2, got %d", config.MaxRetries)
	}
	if config.MaxDelay != 4*time.Second {
		t.Errorf("Expected MaxDelay=4s, got %v", config.MaxDelay)
	}

	if RelayConfig(-1).MaxRetries != 0 {
		t.Error("Expected negative retries to clamp to 0")
	}
}

func TestDo_Success(t *testing.T) {
	result := Do(context.Background(), fastConfig(2), func(context.Context) error {
		return nil
	}, nil)

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}
	if len(result.RetryReasons) != 0 {
		t.Errorf("Expected no retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	}, nil)

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
	if len(result.RetryReasons) != 2 {
		t.Errorf("Expected 2 retry reasons, got %d", len(result.RetryReasons))
	}
	if result.LastError != nil {
		t.Errorf("Expected LastError cleared on success, got %v", result.LastError)
	}
}

func TestDo_AllAttemptsFailure(t *testing.T) {
	expectedError := errors.New("connection refused")
	result := Do(context.Background(), fastConfig(2), func(context.Context) error {
		return expectedError
	}, nil)

	if result.Success {
		t.Error("Expected success=false")
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastError != expectedError {
		t.Errorf("Expected last error to be %v, got %v", expectedError, result.LastError)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), fastConfig(5), func(context.Context) error {
		attempts++
		return errors.New("HTTP 400 Bad Request")
	}, nil)

	if result.Success || attempts != 1 {
		t.Errorf("Expected a single failed attempt, got success=%v attempts=%d", result.Success, attempts)
	}
}

func TestDo_PermanentError(t *testing.T) {
	attempts := 0
	base := errors.New("503 but do not retry")
	result := Do(context.Background(), fastConfig(5), func(context.Context) error {
		attempts++
		return Permanent(base)
	}, nil)

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(result.LastError, base) {
		t.Errorf("Expected wrapped error to unwrap to base, got %v", result.LastError)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	config := Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := Do(ctx, config, func(context.Context) error {
		return errors.New("service unavailable")
	}, nil)

	if result.Success {
		t.Error("Expected success=false due to context cancellation")
	}
	if result.LastError != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", result.LastError)
	}
	if result.Attempts > 2 {
		t.Errorf("Expected few attempts due to quick timeout, got %d", result.Attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	if d := calculateDelay(config, 0); d != time.Second {
		t.Errorf("Expected delay0=1s, got %v", d)
	}
	if d := calculateDelay(config, 2); d != 4*time.Second {
		t.Errorf("Expected delay2=4s, got %v", d)
	}
	if d := calculateDelay(config, 10); d != 10*time.Second {
		t.Errorf("Expected delay10=10s (capped), got %v", d)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	config := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	expectedBase := 2 * time.Second
	tolerance := 200 * time.Millisecond
	for i := 0; i < 20; i++ {
		if d := calculateDelay(config, 1); abs(d-expectedBase) > tolerance {
			t.Fatalf("delay %v too far from expected %v", d, expectedBase)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		errors.New("connection refused"),
		errors.New("connection timeout"),
		errors.New("HTTP 429 Too Many Requests"),
		errors.New("HTTP 503 Service Unavailable"),
		errors.New("context deadline exceeded"),
		errors.New("unexpected EOF"),
	}
	for _, err := range retryable {
		if !IsRetryableError(err) {
			t.Errorf("Expected %v to be retryable", err)
		}
	}

	nonRetryable := []error{
		errors.New("invalid input"),
		errors.New("HTTP 401 Unauthorized"),
		context.Canceled,
		Permanent(errors.New("timeout")),
		nil,
	}
	for _, err := range nonRetryable {
		if IsRetryableError(err) {
			t.Errorf("Expected %v to NOT be retryable", err)
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
