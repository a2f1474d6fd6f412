// Package chat wraps the OpenAI chat completion API for the storefront's
// support assistant and product recommendations.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/metrics"
	"github.com/sashabaranov/go-openai"
)

const (
	FallbackReply         = "I'm sorry, I couldn't process your message. Please try again."
	UnavailableReply      = "I'm experiencing technical difficulties. Please contact our support team for assistance."
	DefaultReasoning      = "Based on general preferences"
	UnavailableReasoning  = "Unable to generate recommendations at this time"
	supportPromptTemplate = `You are a helpful customer support assistant for Modern Pride Super Mart, a grocery store.
You help customers with:
- Product information and availability
- Order status and tracking
- Delivery information
- Store policies and return information
- General grocery shopping questions

Be friendly, helpful, and concise. If you don't know specific information about products or orders,
suggest the customer contact a human representative or check their account.`
)

var errNotConfigured = errors.New("chat assistant is not configured")

type CustomerData struct {
	PreviousPurchases []string `json:"previous_purchases"`
	CurrentCartItems  []string `json:"current_cart_items"`
	Preferences       []string `json:"preferences"`
}

type Recommendations struct {
	Recommendations []string `json:"recommendations"`
	Reasoning       string   `json:"reasoning"`
}

type Assistant struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// New builds an assistant. Without an API key every call returns the
// unavailable fallback instead of reaching the network.
func New(cfg config.ChatConfig, logger *slog.Logger) *Assistant {
	a := &Assistant{
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}
	if cfg.APIKey == "" {
		return a
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	a.client = openai.NewClientWithConfig(clientCfg)
	return a
}

// Reply answers a customer message. It never fails: errors are logged and
// turned into a fixed apology.
func (a *Assistant) Reply(ctx context.Context, message, extraContext string) string {
	prompt := supportPromptTemplate
	if strings.TrimSpace(extraContext) != "" {
		prompt += "\n\nContext: " + extraContext
	}

	resp, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		a.logger.Warn("chat completion failed", "error", err)
		metrics.ChatRequests.WithLabelValues("reply", "error").Inc()
		return UnavailableReply
	}

	content := strings.TrimSpace(firstContent(resp))
	if content == "" {
		metrics.ChatRequests.WithLabelValues("reply", "empty").Inc()
		return FallbackReply
	}

	metrics.ChatRequests.WithLabelValues("reply", "ok").Inc()
	return content
}

func (a *Assistant) Recommend(ctx context.Context, data CustomerData) Recommendations {
	resp, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: recommendationPrompt(data)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		a.logger.Warn("recommendation completion failed", "error", err)
		metrics.ChatRequests.WithLabelValues("recommend", "error").Inc()
		return Recommendations{Recommendations: []string{}, Reasoning: UnavailableReasoning}
	}

	content := firstContent(resp)
	if strings.TrimSpace(content) == "" {
		content = "{}"
	}

	var result Recommendations
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		a.logger.Warn("recommendation response is not valid JSON", "error", err)
		metrics.ChatRequests.WithLabelValues("recommend", "error").Inc()
		return Recommendations{Recommendations: []string{}, Reasoning: UnavailableReasoning}
	}

	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	if result.Reasoning == "" {
		result.Reasoning = DefaultReasoning
	}

	metrics.ChatRequests.WithLabelValues("recommend", "ok").Inc()
	return result
}

func (a *Assistant) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if a.client == nil {
		return openai.ChatCompletionResponse{}, errNotConfigured
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("create chat completion: %w", err)
	}
	return resp, nil
}

func firstContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func recommendationPrompt(data CustomerData) string {
	return fmt.Sprintf(`Based on the following customer data, recommend 3-5 grocery products that would be relevant for this customer:

Previous purchases: %s
Current cart items: %s
Preferences: %s

Respond with JSON in this format: { "recommendations": ["product1", "product2", "product3"], "reasoning": "explanation" }`,
		joinOrNone(data.PreviousPurchases),
		joinOrNone(data.CurrentCartItems),
		joinOrNone(data.Preferences),
	)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}
