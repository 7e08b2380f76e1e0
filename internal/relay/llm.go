package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/leadchat/internal/capture"
	"github.com/leadchat/internal/config"
	"github.com/leadchat/pkg/models"
)

// Provider represents an AI provider type
type Provider string

const (
	// OpenAI also covers OpenAI-compatible endpoints such as Mistral's.
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// ModelConfig contains the generation settings for a model
type ModelConfig struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Options configures an LLMRelay
type Options struct {
	Provider       Provider      `json:"provider"`
	APIKey         string        `json:"-"`
	BaseURL        string        `json:"base_url,omitempty"`
	ModelConfig    ModelConfig   `json:"model_config"`
	Timeout        time.Duration `json:"timeout"`
	BrandName      string        `json:"brand_name"`
	WebsiteContext string        `json:"website_context"`
}

// OptionsFromConfig builds relay options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Provider: Provider(cfg.Relay.Provider),
		APIKey:   cfg.Relay.APIKey,
		BaseURL:  cfg.Relay.BaseURL,
		ModelConfig: ModelConfig{
			Model:       cfg.Relay.Model,
			Temperature: cfg.Relay.Temperature,
			MaxTokens:   cfg.Relay.MaxTokens,
		},
		Timeout:        cfg.Relay.Timeout,
		BrandName:      cfg.General.BrandName,
		WebsiteContext: cfg.General.WebsiteContext,
	}
}

// NewModel creates the langchaingo model for the configured provider.
func NewModel(ctx context.Context, options Options) (llms.Model, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.ModelConfig.Model).
		Float64("temperature", options.ModelConfig.Temperature).
		Msg("Creating relay model")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderCohere:
		model, err = createCohereModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}
	return model, nil
}

func createOpenAIModel(options Options) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.ModelConfig.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options Options) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.ModelConfig.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.ModelConfig.Model))
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(options Options) (llms.Model, error) {
	return anthropic.New(
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.ModelConfig.Model),
	)
}

func createCohereModel(options Options) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.ModelConfig.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(options Options) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.ModelConfig.Model),
	)
}

// LLMRelay answers transcripts with a language model, prepending the
// website context as a system message.
type LLMRelay struct {
	model   llms.Model
	options Options
	logger  zerolog.Logger
}

// NewLLMRelay wraps an existing model.
func NewLLMRelay(model llms.Model, options Options) *LLMRelay {
	if options.Timeout <= 0 {
		options.Timeout = 45 * time.Second
	}
	return &LLMRelay{
		model:   model,
		options: options,
		logger:  log.With().Str("component", "relay").Str("provider", string(options.Provider)).Logger(),
	}
}

// NewLLMRelayFromConfig creates the provider model and wraps it.
func NewLLMRelayFromConfig(ctx context.Context, cfg *config.Config) (*LLMRelay, error) {
	options := OptionsFromConfig(cfg)
	model, err := NewModel(ctx, options)
	if err != nil {
		return nil, err
	}
	return NewLLMRelay(model, options), nil
}

// Messages converts a request into the model prompt: the system context
// first, then the transcript in order.
func (r *LLMRelay) Messages(req Request) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(req.Messages)+1)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem,
		SystemPrompt(r.options.BrandName, r.options.WebsiteContext, req.PageURL)))

	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleUser:
			content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case models.RoleAssistant:
			content = append(content, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		case models.RoleSystem:
			content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		}
	}
	return content
}

// Complete implements ChatRelay.
func (r *LLMRelay) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", failure("no messages provided")
	}

	ctx, cancel := context.WithTimeout(ctx, r.options.Timeout)
	defer cancel()

	callOptions := []llms.CallOption{
		llms.WithTemperature(r.options.ModelConfig.Temperature),
	}
	if r.options.ModelConfig.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(r.options.ModelConfig.MaxTokens))
	}
	if r.options.ModelConfig.Model != "" {
		callOptions = append(callOptions, llms.WithModel(r.options.ModelConfig.Model))
	}

	start := time.Now()
	resp, err := r.model.GenerateContent(ctx, r.Messages(req), callOptions...)
	if err != nil {
		r.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("model call failed")
		return "", fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		r.logger.Error().Msg("model returned no content")
		return "", failure("invalid API response structure")
	}

	reply := resp.Choices[0].Content
	r.logger.Debug().
		Int("messages", len(req.Messages)).
		Int("reply_len", len(reply)).
		Dur("elapsed", time.Since(start)).
		Msg("relay reply generated")

	capture.WriteJSON("relay", "exchange", map[string]interface{}{
		"request": req,
		"reply":   reply,
	})
	return reply, nil
}
