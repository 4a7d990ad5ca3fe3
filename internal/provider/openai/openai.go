// Package openai is a crafting provider backed by an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/roach88/semantica/internal/crafting"
)

//go:embed prompt.tmpl
var promptText string

var prompt = template.Must(template.New("prompt").Parse(promptText))

const systemMessage = "You reply with strict JSON."

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config configures the provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Provider generates spells with a chat model.
type Provider struct {
	client sdk.Client
	model  string
	logger *slog.Logger
}

// New creates a provider. Requests are not retried; the caller owns retry
// policy.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Provider{
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger,
	}, nil
}

// Generate implements crafting.Provider.
func (p *Provider) Generate(ctx context.Context, names []string) (crafting.Candidate, error) {
	var buf bytes.Buffer
	if err := prompt.Execute(&buf, struct{ Names []string }{names}); err != nil {
		return crafting.Candidate{}, fmt.Errorf("openai: render prompt: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(p.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemMessage),
			sdk.UserMessage(buf.String()),
		},
	})
	if err != nil {
		return crafting.Candidate{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	p.logger.Debug("openai completion", "model", p.model, "ingredients", names,
		"elapsed", time.Since(start))
	if len(resp.Choices) == 0 {
		return crafting.Candidate{}, errors.New("openai: response has no choices")
	}
	return ParseAnswer(resp.Choices[0].Message.Content)
}

type answer struct {
	Name        string `json:"name"`
	Thing       string `json:"thing"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
}

// ParseAnswer decodes a model reply. It accepts the object wrapped in a
// markdown code fence and reads "thing" when "name" is missing.
func ParseAnswer(content string) (crafting.Candidate, error) {
	body := strings.TrimSpace(content)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	var a answer
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return crafting.Candidate{}, fmt.Errorf("openai: decode answer: %w", err)
	}
	name := a.Name
	if strings.TrimSpace(name) == "" {
		name = a.Thing
	}
	if strings.TrimSpace(name) == "" {
		return crafting.Candidate{}, errors.New("openai: answer has no name")
	}
	return crafting.Candidate{Name: name, Emoji: a.Emoji, Description: a.Description}, nil
}
