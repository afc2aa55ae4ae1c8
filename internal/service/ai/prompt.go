package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
)

// PromptBuilder renders the conversation into the request message list.
type PromptBuilder struct {
	systemPrompt string
	template     prompt.ChatTemplate
}

// NewPromptBuilder creates a builder; an empty systemPrompt sends the history only.
func NewPromptBuilder(systemPrompt string) *PromptBuilder {
	systemPrompt = strings.TrimSpace(systemPrompt)

	templates := make([]schema.MessagesTemplate, 0, 2)
	if systemPrompt != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates, schema.MessagesPlaceholder("history", false))

	return &PromptBuilder{
		systemPrompt: systemPrompt,
		template:     prompt.FromMessages(schema.FString, templates...),
	}
}

// Build converts the history, in order, into eino messages.
func (b *PromptBuilder) Build(ctx context.Context, history []chat.Message) ([]*schema.Message, error) {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
	}

	vars := map[string]any{"history": messages}
	if b.systemPrompt != "" {
		vars["system"] = b.systemPrompt
	}

	rendered, err := b.template.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return rendered, nil
}
