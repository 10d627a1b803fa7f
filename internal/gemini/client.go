// Package gemini implements the reply generator and sentiment classifier on
// top of Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/text"
)

// historyTokenBudget bounds the conversation history sent with a reply request.
const historyTokenBudget = 6000

// contentGenerator is the part of the genai SDK the client calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

// Client generates replies, intros and paraphrases, runs the strategic
// analysis and classifies sentiment. Text-producing methods fail soft.
type Client struct {
	models        contentGenerator
	cfg           ConfigSource
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	maxRetries    int
	retryDelay    time.Duration
	timeout       time.Duration
	window        *text.DynamicWindow
	breaker       *gobreaker.CircuitBreaker

	knowledgeMu    sync.Mutex
	knowledgePath  string
	knowledgeMod   time.Time
	knowledgeCache string
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, gc config.GeminiConfig, cfg ConfigSource, log *slog.Logger) (*Client, error) {
	if gc.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  gc.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := newClient(gi.Models, gc, cfg, log)
	c.log.Info("Gemini client initialized successfully", "model", gc.ModelName)
	return c, nil
}

func newClient(models contentGenerator, gc config.GeminiConfig, cfg ConfigSource, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	temperature := gc.Temperature
	timeout := gc.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	log = log.With("component", "gemini_client")
	return &Client{
		models: models,
		cfg:    cfg,
		log:    log,
		contentConfig: &genai.GenerateContentConfig{
			Temperature: &temperature,
			SafetySettings: []*genai.SafetySetting{
				{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
				{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
				{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
				{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			},
		},
		modelName:     gc.ModelName,
		maxRetries:    gc.MaxRetries,
		retryDelay:    time.Duration(gc.RetryDelaySeconds) * time.Second,
		timeout:       timeout,
		window:        text.NewDynamicWindow(historyTokenBudget),
		knowledgePath: gc.KnowledgePath,
		breaker:       newBreaker(log),
	}
}

// withInstruction copies the base config with a system instruction and temperature.
func (c *Client) withInstruction(instruction string, temperature *float32) *genai.GenerateContentConfig {
	copyCfg := *c.contentConfig
	if instruction != "" {
		copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	}
	if temperature != nil {
		copyCfg.Temperature = temperature
	}
	return &copyCfg
}

func (c *Client) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	for i := 0; i <= c.maxRetries; i++ {
		var resp *genai.GenerateContentResponse
		resp, err = c.models.GenerateContent(ctx, c.modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError", "delay", c.retryDelay, "code", apiErr.Code)
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("gemini retry aborted: %w", ctx.Err())
				case <-time.After(c.retryDelay):
				}
				continue
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries with APIError", "error", err, "code", apiErr.Code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

// generateText runs one request and returns the sanitized text.
func (c *Client) generateText(ctx context.Context, op string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.generateContent(ctx, contents, cfg)
	if err != nil {
		return "", err
	}
	raw, err := c.extractTextFromResponse(ctx, op, resp)
	if err != nil {
		return "", err
	}
	clean, err := text.Sanitize(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return clean, nil
}

// GenerateReply writes the next message to the lead. On any failure it
// returns the configured fallback reply.
func (c *Client) GenerateReply(ctx context.Context, l *lead.Lead, incoming string, history []database.ConversationEntry) string {
	fallback := c.cfg.Current().Outreach.FallbackReply
	base := c.cfg.Current().Gemini.SystemInstruction

	instruction := buildReplyInstruction(base, l, c.knowledge(ctx))
	selected := c.window.Select(priorTurns(history), text.EstimateTokens(instruction), text.EstimateTokens(incoming))
	c.log.DebugContext(ctx, "Generating reply", "lead_id", l.ID, "history", len(history), "selected", len(selected))

	contents := make([]*genai.Content, 0, len(selected)+1)
	for _, e := range selected {
		var role genai.Role = genai.RoleUser
		if e.Sender == database.SenderBot {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(e.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(incoming, genai.RoleUser))

	reply, err := c.generateText(ctx, "GenerateReply", contents, c.withInstruction(instruction, nil))
	if err != nil {
		c.log.WarnContext(ctx, "Reply generation failed, using fallback", "lead_id", l.ID, "error", err)
		return fallback
	}
	return reply
}

// priorTurns drops the trailing customer entries, which the caller passes merged as incoming.
func priorTurns(history []database.ConversationEntry) []database.ConversationEntry {
	end := len(history)
	for end > 0 && history[end-1].Sender == database.SenderCustomer {
		end--
	}
	return history[:end]
}

// GenerateIntro writes a first-contact message following strategy s. On any
// failure it returns the strategy template.
func (c *Client) GenerateIntro(ctx context.Context, l *lead.Lead, s lead.StrategyInfo) string {
	contents := []*genai.Content{genai.NewContentFromText(buildIntroPrompt(l, s), genai.RoleUser)}
	intro, err := c.generateText(ctx, "GenerateIntro", contents, c.withInstruction(introInstruction, nil))
	if err != nil {
		c.log.WarnContext(ctx, "Intro generation failed, using strategy template", "lead_id", l.ID, "strategy", s.Code, "error", err)
		return s.FallbackIntro(l)
	}
	return intro
}

// Paraphrase lightly rewords msg. On any failure it returns msg unchanged.
func (c *Client) Paraphrase(ctx context.Context, msg string) string {
	if strings.TrimSpace(msg) == "" {
		return msg
	}
	temperature := float32(0.8)
	contents := []*genai.Content{genai.NewContentFromText(msg, genai.RoleUser)}
	varied, err := c.generateText(ctx, "Paraphrase", contents, c.withInstruction(paraphraseInstruction, &temperature))
	if err != nil {
		c.log.WarnContext(ctx, "Paraphrase failed, using original text", "error", err)
		return msg
	}
	return varied
}

var insightSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"objection":       {Type: genai.TypeString, Description: "The customer's main reservation."},
		"next_move":       {Type: genai.TypeString, Description: "The recommended next step."},
		"win_probability": {Type: genai.TypeInteger, Description: "Likelihood of conversion from 1 to 10."},
	},
	Required: []string{"objection", "next_move", "win_probability"},
}

// Analyze returns the strategic read of the conversation.
func (c *Client) Analyze(ctx context.Context, incoming string, history []database.ConversationEntry) (lead.Insight, error) {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	for _, e := range history {
		fmt.Fprintf(&sb, "%s: %s\n", e.Sender, e.Text)
	}
	fmt.Fprintf(&sb, "\nLatest customer message:\n%s\n", incoming)

	temperature := float32(0.3)
	copyCfg := c.withInstruction(analyzeInstruction, &temperature)
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = insightSchema

	contents := []*genai.Content{genai.NewContentFromText(sb.String(), genai.RoleUser)}
	resp, err := c.generateContent(ctx, contents, copyCfg)
	if err != nil {
		return lead.Insight{}, fmt.Errorf("strategic analysis: %w", err)
	}
	jsonText, err := c.extractTextFromResponse(ctx, "Analyze", resp)
	if err != nil {
		return lead.Insight{}, fmt.Errorf("strategic analysis: %w", err)
	}

	var out struct {
		Objection      string `json:"objection"`
		NextMove       string `json:"next_move"`
		WinProbability int    `json:"win_probability"`
	}
	if err := json.Unmarshal([]byte(jsonText), &out); err != nil {
		c.log.ErrorContext(ctx, "Failed to parse analysis JSON from Gemini response", "error", err, "response_text", logger.Preview(jsonText))
		return lead.Insight{}, fmt.Errorf("invalid analysis JSON received: %w", err)
	}
	return lead.Insight{Objection: out.Objection, NextMove: out.NextMove, WinProbability: out.WinProbability}, nil
}

var sentimentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sentiment": {
			Type: genai.TypeString,
			Enum: []string{
				string(lead.SentimentPositive), string(lead.SentimentNegative),
				string(lead.SentimentNeutral), string(lead.SentimentAggressive),
			},
		},
	},
	Required: []string{"sentiment"},
}

// Classify labels the customer's message. Anything unusable yields Neutral.
func (c *Client) Classify(ctx context.Context, msg string) lead.Sentiment {
	if strings.TrimSpace(msg) == "" {
		return lead.SentimentNeutral
	}

	temperature := float32(0.1)
	copyCfg := c.withInstruction(classifyInstruction, &temperature)
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = sentimentSchema

	contents := []*genai.Content{genai.NewContentFromText(msg, genai.RoleUser)}
	resp, err := c.generateContent(ctx, contents, copyCfg)
	if err != nil {
		c.log.WarnContext(ctx, "Sentiment classification failed, assuming neutral", "error", err)
		return lead.SentimentNeutral
	}
	raw, err := c.extractTextFromResponse(ctx, "Classify", resp)
	if err != nil {
		return lead.SentimentNeutral
	}

	var out struct {
		Sentiment string `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return lead.ParseSentiment(raw)
	}
	return lead.ParseSentiment(out.Sentiment)
}

// knowledge returns the knowledge base file, re-read when its mtime changes.
func (c *Client) knowledge(ctx context.Context) string {
	if c.knowledgePath == "" {
		return ""
	}
	c.knowledgeMu.Lock()
	defer c.knowledgeMu.Unlock()

	info, err := os.Stat(c.knowledgePath)
	if err != nil {
		c.log.WarnContext(ctx, "Knowledge base unavailable", "path", c.knowledgePath, "error", err)
		return c.knowledgeCache
	}
	if info.ModTime().Equal(c.knowledgeMod) {
		return c.knowledgeCache
	}
	data, err := os.ReadFile(c.knowledgePath)
	if err != nil {
		c.log.WarnContext(ctx, "Knowledge base read failed", "path", c.knowledgePath, "error", err)
		return c.knowledgeCache
	}
	c.knowledgeMod = info.ModTime()
	c.knowledgeCache = string(data)
	c.log.InfoContext(ctx, "Knowledge base loaded", "path", c.knowledgePath, "bytes", len(data))
	return c.knowledgeCache
}

func (c *Client) extractTextFromResponse(ctx context.Context, op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%s returned no response", op)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
	}

	rawText := strings.TrimSpace(resp.Text())
	if rawText == "" {
		return "", fmt.Errorf("%s returned empty text", op)
	}
	return rawText, nil
}
