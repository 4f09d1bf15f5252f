// Package ai builds the chat models that write answers and the prompts
// they are given.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"edurag/internal/config"
	"edurag/internal/logger"
)

var (
	ErrGenerationTimeout = errors.New("answer generation timed out")
	ErrGeneration        = errors.New("answer generation failed")
)

const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

// NewChatModel creates the chat model for provider. deepseek and any other
// name with a base_url are spoken to through the OpenAI-compatible client.
func NewChatModel(ctx context.Context, provider string, p config.ProviderConfig, g config.GeneratorConfig) (model.BaseChatModel, error) {
	modelName := g.Model
	if modelName == "" {
		modelName = p.Model
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("provider %s: api key is not configured", provider)
	}
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := g.Temperature
	timeout := time.Duration(g.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch strings.ToLower(provider) {
	case "openai", "deepseek":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     p.BaseURL,
			Model:       modelName,
			APIKey:      p.APIKey,
			Timeout:     timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelName,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	case "claude":
		var baseURLPtr *string
		if p.BaseURL != "" {
			baseURLPtr = &p.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      p.APIKey,
			Model:       modelName,
			BaseURL:     baseURLPtr,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
	default:
		if p.BaseURL == "" {
			return nil, fmt.Errorf("invalid provider: %s", provider)
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     p.BaseURL,
			Model:       modelName,
			APIKey:      p.APIKey,
			Timeout:     timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// Generator runs one bounded completion per answer.
type Generator struct {
	model       model.BaseChatModel
	maxTokens   int
	temperature float32
	timeout     time.Duration
	log         *logger.Logger
}

func NewGenerator(m model.BaseChatModel, cfg config.GeneratorConfig, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.NewNop()
	}
	g := &Generator{
		model:       m,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		log:         log,
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	return g
}

func (g *Generator) options() []model.Option {
	return []model.Option{
		model.WithMaxTokens(g.maxTokens),
		model.WithTemperature(g.temperature),
	}
}

// Generate returns the full answer text.
func (g *Generator) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.model.Generate(ctx, messages, g.options()...)
	if err != nil {
		return "", g.classify(ctx, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return strings.TrimSpace(msg.Content), nil
}

// Stream delivers the answer as it is produced; onDelta receives each new
// fragment. The full text is returned at the end.
func (g *Generator) Stream(ctx context.Context, messages []*schema.Message, onDelta func(string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reader, err := g.model.Stream(ctx, messages, g.options()...)
	if err != nil {
		return "", g.classify(ctx, err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", g.classify(ctx, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return strings.TrimSpace(full.String()), nil
}

func (g *Generator) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrGenerationTimeout, g.timeout)
	}
	return fmt.Errorf("%w: %v", ErrGeneration, err)
}
