// Package ai turns assistant mentions into streamed model responses and
// fans the chunks out to the mentioning room.
package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/driftlab/driftchat/internal/config"
)

// Stream yields response chunks. Recv returns io.EOF after the final
// chunk; Close releases the underlying model stream.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Generator produces a response stream for one assistant invocation.
type Generator interface {
	Stream(ctx context.Context, system, query string) (Stream, error)
}

// ArkGenerator drives an Ark-hosted chat model through a compiled
// prompt-plus-model chain.
type ArkGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkGenerator builds the chat model from cfg and compiles the chain.
func NewArkGenerator(ctx context.Context, cfg config.AI) (*ArkGenerator, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: need ARK_API_KEY or AK/SK plus ARK_MODEL")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		APIKey:    cfg.APIKey,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &ArkGenerator{chain: runnable}, nil
}

// Stream runs the chain in streaming mode.
func (g *ArkGenerator) Stream(ctx context.Context, system, query string) (Stream, error) {
	reader, err := g.chain.Stream(ctx, map[string]any{
		"system": system,
		"query":  query,
	})
	if err != nil {
		return nil, fmt.Errorf("stream chain output: %w", err)
	}
	return &arkStream{reader: reader}, nil
}

type arkStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (s *arkStream) Recv() (string, error) {
	msg, err := s.reader.Recv()
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func (s *arkStream) Close() { s.reader.Close() }
