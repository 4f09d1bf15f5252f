package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const groundedSystem = `You are an educational AI assistant. Answer the question based only on the provided context from uploaded documents.

Instructions:
- Provide a clear, educational answer based on the context
- If the context does not fully answer the question, say so and provide what you can
- Use examples from the context when possible
- Be concise but comprehensive
- Always cite which document or source you are referencing`

const generalSystem = `You are an educational AI assistant. Answer this question using your general knowledge.

Instructions:
- Provide a clear, educational explanation
- Use examples and analogies when helpful
- Break down complex topics into understandable parts
- Be encouraging and supportive`

const hybridSystem = `You are an educational AI assistant. Answer the question by combining information from uploaded documents with your general knowledge.

Instructions:
- Combine information from both sources
- Clearly distinguish between document-based information and general knowledge
- Use examples from the documents when available
- Fill gaps with general knowledge when the documents are incomplete
- Be educational and student-friendly
- Cite the document or source for anything taken from the context`

// ContextBlock is one retrieved excerpt shown to the model.
type ContextBlock struct {
	Source  string
	Content string
}

// Composer renders the grounded, hybrid and general prompts.
type Composer struct {
	grounded prompt.ChatTemplate
	hybrid   prompt.ChatTemplate
	general  prompt.ChatTemplate
}

func NewComposer() *Composer {
	return &Composer{
		grounded: prompt.FromMessages(schema.FString,
			schema.SystemMessage(groundedSystem),
			schema.UserMessage("Context from documents:\n{context}\n\nQuestion: {question}"),
		),
		hybrid: prompt.FromMessages(schema.FString,
			schema.SystemMessage(hybridSystem),
			schema.UserMessage("Context from uploaded documents:\n{context}\n\nQuestion: {question}"),
		),
		general: prompt.FromMessages(schema.FString,
			schema.SystemMessage(generalSystem),
			schema.UserMessage("Question: {question}"),
		),
	}
}

// Grounded builds messages that carry the excerpts as context.
func (c *Composer) Grounded(ctx context.Context, question string, blocks []ContextBlock) ([]*schema.Message, error) {
	return c.withContext(ctx, c.grounded, "grounded", question, blocks)
}

// Hybrid builds messages that let the model mix the excerpts with what it
// already knows.
func (c *Composer) Hybrid(ctx context.Context, question string, blocks []ContextBlock) ([]*schema.Message, error) {
	return c.withContext(ctx, c.hybrid, "hybrid", question, blocks)
}

func (c *Composer) withContext(ctx context.Context, tpl prompt.ChatTemplate, name, question string, blocks []ContextBlock) ([]*schema.Message, error) {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, fmt.Sprintf("Source: %s\nContent: %s", b.Source, b.Content))
	}
	msgs, err := tpl.Format(ctx, map[string]any{
		"context":  strings.Join(parts, "\n---\n"),
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s prompt: %w", name, err)
	}
	return msgs, nil
}

// General builds messages with no document context at all.
func (c *Composer) General(ctx context.Context, question string) ([]*schema.Message, error) {
	msgs, err := c.general.Format(ctx, map[string]any{"question": question})
	if err != nil {
		return nil, fmt.Errorf("format general prompt: %w", err)
	}
	return msgs, nil
}
