// Package classifier turns a case description into triage labels, a summary,
// a recommended action and a risk score.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snapaid/internal/config"
)

// Input is what a case offers for classification.
type Input struct {
	Text  string  `json:"input_text"`
	Image *string `json:"input_image,omitempty"`
	Voice *string `json:"input_voice,omitempty"`
}

// Result is the classifier's answer.
type Result struct {
	Labels            []string `json:"labels"`
	Summary           string   `json:"summary"`
	RecommendedAction string   `json:"recommended_action"`
	RiskScore         *float64 `json:"risk_score,omitempty"`
}

// Classifier maps case input to a triage result. Failures are returned as
// *apperr.ClassificationError.
type Classifier interface {
	Classify(ctx context.Context, in Input) (*Result, error)
}

// New builds the classifier selected by cfg.Classifier.Mode.
func New(ctx context.Context, cfg *config.Config) (Classifier, error) {
	cc := cfg.Classifier
	timeout := time.Duration(cc.TimeoutSeconds) * time.Second
	switch strings.ToLower(cc.Mode) {
	case "", "remote":
		if cc.BaseURL == "" {
			return nil, fmt.Errorf("classifier base_url must be configured for remote mode")
		}
		return NewRemoteClient(cc.BaseURL, timeout), nil
	case "model":
		prov, ok := cfg.Providers[cc.Provider]
		if !ok {
			return nil, fmt.Errorf("provider %s not configured", cc.Provider)
		}
		modelName := cc.Model
		if modelName == "" {
			modelName = prov.Model
		}
		return NewModelClient(ctx, cc.Provider, modelName, prov)
	default:
		return nil, fmt.Errorf("unknown classifier mode: %s", cc.Mode)
	}
}
