package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"snapaid/internal/apperr"
	"snapaid/internal/config"
)

type fakeGenerator struct {
	reply *schema.Message
	err   error
	input []*schema.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.reply, f.err
}

func TestModelClientClassify(t *testing.T) {
	gen := &fakeGenerator{reply: schema.AssistantMessage("```json\n{\"label\":[\"Minor\"],\"summary\":\"mild cold\",\"recommended_action\":\"rest\",\"risk_score\":3}\n```", nil)}
	c := &ModelClient{chat: gen}

	res, err := c.Classify(context.Background(), Input{Text: "runny nose"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(res.Labels) != 1 || res.Labels[0] != "Minor" || res.Summary != "mild cold" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(gen.input) != 2 || gen.input[0].Role != schema.System {
		t.Fatalf("expected system prompt then user message, got %d messages", len(gen.input))
	}
	if gen.input[1].MultiContent != nil {
		t.Fatalf("text-only input should not use multi content")
	}
}

func TestModelClientAttachesMedia(t *testing.T) {
	gen := &fakeGenerator{reply: schema.AssistantMessage(`{"label":[],"summary":"","recommended_action":""}`, nil)}
	c := &ModelClient{chat: gen}
	img, voice := "http://files/a.png", "http://files/a.mp3"

	if _, err := c.Classify(context.Background(), Input{Text: "rash", Image: &img, Voice: &voice}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	parts := gen.input[1].MultiContent
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != img {
		t.Fatalf("image part missing: %+v", parts[1])
	}
	if parts[2].AudioURL == nil || parts[2].AudioURL.URL != voice {
		t.Fatalf("audio part missing: %+v", parts[2])
	}
}

func TestModelClientErrors(t *testing.T) {
	c := &ModelClient{chat: &fakeGenerator{err: errors.New("quota")}}
	if _, err := c.Classify(context.Background(), Input{Text: "x"}); !apperr.IsClassification(err) {
		t.Fatalf("expected classification error, got %v", err)
	}
	c = &ModelClient{chat: &fakeGenerator{reply: schema.AssistantMessage("I cannot help", nil)}}
	if _, err := c.Classify(context.Background(), Input{Text: "x"}); !apperr.IsClassification(err) {
		t.Fatalf("expected classification error for prose reply, got %v", err)
	}
}

func TestNewModelClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewModelClient(context.Background(), "llama", "m", config.ProviderConfig{})
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
