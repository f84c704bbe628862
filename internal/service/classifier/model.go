package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"snapaid/internal/apperr"
	"snapaid/internal/config"
)

const triagePrompt = "You are a medical triage assistant. Read the patient's message and answer with a single JSON object, " +
	"without markdown, of the form " +
	`{"label": [...], "summary": "...", "recommended_action": "...", "risk_score": 0}. ` +
	"Labels are strings covering: one triage priority (Immediate, Delayed, Minor or Expectant), " +
	"symptom labels (Fever, Cough, Chest Pain, ...), body system labels (Cardiovascular, Respiratory, ...) " +
	"and contextual labels (Acute Onset, Chronic Condition, ...). Omit a category when nothing applies and " +
	"return no labels when the patient is fine. If the condition is extreme and needs immediate attention, " +
	`add the label "Emergency" and use risk score 10. ` +
	"The risk score follows the priority: Immediate 10, Delayed 6, Minor 3, Expectant 1. " +
	"The summary is a short medical summary and the recommended action is one sentence."

type chatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ModelClient classifies cases by prompting a chat model.
type ModelClient struct {
	chat chatGenerator
}

// NewModelClient connects to provider ("openai", "gemini" or "claude").
func NewModelClient(ctx context.Context, provider, modelName string, prov config.ProviderConfig) (*ModelClient, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: prov.BaseURL,
			Model:   modelName,
			APIKey:  prov.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: prov.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURL *string
		if prov.BaseURL != "" {
			baseURL = &prov.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    prov.APIKey,
			Model:     modelName,
			BaseURL:   baseURL,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &ModelClient{chat: chatModel}, nil
}

// Classify sends the triage prompt with the case text and any media references.
func (c *ModelClient) Classify(ctx context.Context, in Input) (*Result, error) {
	if c == nil || c.chat == nil {
		return nil, &apperr.ClassificationError{Err: errors.New("chat model unavailable")}
	}
	resp, err := c.chat.Generate(ctx, buildMessages(in))
	if err != nil {
		return nil, &apperr.ClassificationError{Err: fmt.Errorf("generate: %w", err)}
	}
	if resp == nil {
		return nil, &apperr.ClassificationError{Err: errors.New("empty model response")}
	}
	res, err := ParseResult([]byte(resp.Content))
	if err != nil {
		return nil, &apperr.ClassificationError{Err: err}
	}
	return res, nil
}

func buildMessages(in Input) []*schema.Message {
	user := &schema.Message{
		Role:    schema.User,
		Content: "Message:\n" + in.Text,
	}
	if hasRef(in.Image) || hasRef(in.Voice) {
		parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: user.Content}}
		if hasRef(in.Image) {
			parts = append(parts, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: *in.Image},
			})
		}
		if hasRef(in.Voice) {
			parts = append(parts, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeAudioURL,
				AudioURL: &schema.ChatMessageAudioURL{URL: *in.Voice},
			})
		}
		user.Content = ""
		user.MultiContent = parts
	}
	return []*schema.Message{
		{Role: schema.System, Content: triagePrompt},
		user,
	}
}

func hasRef(s *string) bool {
	return s != nil && *s != ""
}
