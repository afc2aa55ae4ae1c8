package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"
)

var ErrModelRequired = errors.New("model is required")

const streamBuffer = 16

// ChatModel implements the eino chat model contract on top of the
// OpenAI chat completions API.
type ChatModel struct {
	client      *openai.Client
	temperature *float32
	maxTokens   *int
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// Generate returns the whole completion in one message.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	req, err := m.buildRequest(input, false, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in completion response")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream opens a streaming completion. Each non-empty delta becomes one chunk;
// transport failures after the stream opened are delivered as the reader's error.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.buildRequest(input, true, opts...)
	if err != nil {
		return nil, err
	}

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create chat completion stream: %w", err)
	}

	reader, writer := schema.Pipe[*schema.Message](streamBuffer)
	go func() {
		defer stream.Close()
		defer writer.Close()

		for {
			resp, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				return
			}
			if recvErr != nil {
				writer.Send(nil, fmt.Errorf("stream recv: %w", recvErr))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if closed := writer.Send(schema.AssistantMessage(content, nil), nil); closed {
				log.Printf("[ai] stream reader closed before completion for model=%s", req.Model)
				return
			}
		}
	}()

	return reader, nil
}

func (m *ChatModel) buildRequest(input []*schema.Message, stream bool, opts ...model.Option) (openai.ChatCompletionRequest, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}, opts...)

	if options.Model == nil || *options.Model == "" {
		return openai.ChatCompletionRequest{}, ErrModelRequired
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    *options.Model,
		Messages: messages,
		Stream:   stream,
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	return req, nil
}
