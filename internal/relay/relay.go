// Package relay turns a chat transcript into a generated assistant reply.
//
// The widget talks to a ChatRelay; implementations call a language model
// in-process (LLMRelay) or a relay server over HTTP (HTTPClient).
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadchat/pkg/models"
)

// ErrRelayFailed wraps every relay failure: transport errors, non-success
// responses and malformed or empty replies.
var ErrRelayFailed = errors.New("chat relay failed")

// Request is a transcript plus the page the visitor is on.
type Request struct {
	Messages  []models.Message `json:"messages"`
	PageURL   string           `json:"current_url"`
	PageTitle string           `json:"page_title"`
}

// Response is the wire shape returned by the relay server.
type Response struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChatRelay generates the assistant reply to a transcript.
type ChatRelay interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to ChatRelay.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// SystemPrompt is the context message prepended to every transcript.
func SystemPrompt(brand, websiteContext, pageURL string) string {
	return fmt.Sprintf("You are a helpful assistant for %s. Website context: %s Current page: %s. "+
		"Respond based on this context and be helpful to website visitors. Keep responses concise and friendly.",
		brand, websiteContext, pageURL)
}

func failure(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRelayFailed, fmt.Sprintf(format, args...))
}
