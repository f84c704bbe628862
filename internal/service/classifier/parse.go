package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var fenceRe = regexp.MustCompile("(?is)^```(?:json)?\\s*|\\s*```$")

// wireResult accepts both the "label" key used by the inference service and
// the "labels" key used elsewhere.
type wireResult struct {
	Label             json.RawMessage `json:"label"`
	Labels            json.RawMessage `json:"labels"`
	Summary           string          `json:"summary"`
	RecommendedAction string          `json:"recommended_action"`
	RiskScore         *float64        `json:"risk_score"`
}

// ParseResult decodes a classifier answer, tolerating a markdown code fence.
func ParseResult(raw []byte) (*Result, error) {
	body := strings.TrimSpace(string(raw))
	body = strings.TrimSpace(fenceRe.ReplaceAllString(body, ""))
	if body == "" {
		return nil, errors.New("empty classifier response")
	}
	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	rawLabels := w.Labels
	if len(rawLabels) == 0 || string(rawLabels) == "null" {
		rawLabels = w.Label
	}
	labels, err := decodeLabels(rawLabels)
	if err != nil {
		return nil, err
	}
	return &Result{
		Labels:            labels,
		Summary:           w.Summary,
		RecommendedAction: w.RecommendedAction,
		RiskScore:         w.RiskScore,
	}, nil
}

// decodeLabels flattens a list, a comma separated string, or a map of
// category to list into a single label slice.
func decodeLabels(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanLabels(list), nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return cleanLabels(strings.Split(single, ",")), nil
	}
	var grouped map[string][]string
	if err := json.Unmarshal(raw, &grouped); err == nil {
		keys := make([]string, 0, len(grouped))
		for k := range grouped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			list = append(list, grouped[k]...)
		}
		return cleanLabels(list), nil
	}
	return nil, fmt.Errorf("unsupported label format: %s", string(raw))
}

func cleanLabels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
