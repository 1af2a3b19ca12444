package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the model used for the generative enrichment passes
	DefaultChatModel = openai.GPT4oMini
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrNoCompletion is returned when the chat API returns no choices
	ErrNoCompletion = errors.New("no completion returned")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// ChatAPI defines the interface for JSON-producing chat completions
type ChatAPI interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// Client wraps the OpenAI API client for embeddings and enrichment passes
type Client struct {
	api        EmbeddingAPI
	chat       ChatAPI
	dimensions int
}

type OpenAIAdapter struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	chatModel string
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel, chatModel string) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	return &OpenAIAdapter{
		client:    openai.NewClient(apiKey),
		model:     model,
		chatModel: chatModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CompleteJSON calls the chat API requesting a JSON object response
func (a *OpenAIAdapter) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoCompletion
	}

	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	adapter := NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel, cfg.ChatModel)
	return &Client{
		api:        adapter,
		chat:       adapter,
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	if len(embedding) != expected {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

const questionsSystemPrompt = `You analyze internal business documentation.
Given a piece of content, produce the questions a user might ask that this
content answers. Respond as JSON: {"questions": ["...", "..."]}. Produce at
most 5 questions, most likely first.`

// GenerateQuestions produces the synthetic questions the content answers.
func (c *Client) GenerateQuestions(ctx context.Context, content string, tagContext []string) ([]string, error) {
	if content == "" {
		return nil, ErrEmptyText
	}

	user := content
	if len(tagContext) > 0 {
		user = fmt.Sprintf("Known tags: %s\n\n%s", strings.Join(tagContext, ", "), content)
	}

	raw, err := c.chat.CompleteJSON(ctx, questionsSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("questions pass failed: %w", err)
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("questions pass returned invalid JSON: %w", err)
	}

	return parsed.Questions, nil
}

const classifySystemPrompt = `You classify internal business documentation.
Respond as JSON:
{"query_types": ["how_to"|"policy"|"lookup"|"troubleshoot", ...],
 "is_procedure": bool, "is_policy": bool, "is_form": bool}.`

// Classification is the result of the classification enrichment pass.
type Classification struct {
	QueryTypes  []string `json:"query_types"`
	IsProcedure bool     `json:"is_procedure"`
	IsPolicy    bool     `json:"is_policy"`
	IsForm      bool     `json:"is_form"`
}

// ClassifyContent assigns query types and structural flags to the content.
func (c *Client) ClassifyContent(ctx context.Context, content string) (*Classification, error) {
	if content == "" {
		return nil, ErrEmptyText
	}

	raw, err := c.chat.CompleteJSON(ctx, classifySystemPrompt, content)
	if err != nil {
		return nil, fmt.Errorf("classification pass failed: %w", err)
	}

	var parsed Classification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("classification pass returned invalid JSON: %w", err)
	}

	return &parsed, nil
}

const scoresSystemPrompt = `You assess the quality of internal business
documentation. Score each dimension in [0,1]. Respond as JSON:
{"importance": f, "specificity": f, "complexity": f,
 "completeness": f, "actionability": f, "confidence": f}.`

// Scores is the result of the scoring enrichment pass.
type Scores struct {
	Importance    float32 `json:"importance"`
	Specificity   float32 `json:"specificity"`
	Complexity    float32 `json:"complexity"`
	Completeness  float32 `json:"completeness"`
	Actionability float32 `json:"actionability"`
	Confidence    float32 `json:"confidence"`
}

// ScoreContent produces the six quality scores for the content.
func (c *Client) ScoreContent(ctx context.Context, content string) (*Scores, error) {
	if content == "" {
		return nil, ErrEmptyText
	}

	raw, err := c.chat.CompleteJSON(ctx, scoresSystemPrompt, content)
	if err != nil {
		return nil, fmt.Errorf("scoring pass failed: %w", err)
	}

	var parsed Scores
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("scoring pass returned invalid JSON: %w", err)
	}

	return &parsed, nil
}
