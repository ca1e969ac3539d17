// Package arbiter delegates ambiguous pattern choices to an external
// reasoning model. It is only consulted when the evidence aggregator's
// uncertainty gate fires, and its answer is always validated against the
// canonical pattern set by the caller.
package arbiter

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/email-intel/internal/model"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 512
)

// Chooser picks between two candidate patterns for a company.
type Chooser interface {
	Choose(ctx context.Context, req ChoiceRequest) (*Choice, error)
}

// ChoiceRequest carries the company context and the two candidates under
// consideration, with their posterior probabilities.
type ChoiceRequest struct {
	Context    model.CompanyContext
	Candidates [2]Candidate
}

// Candidate is one of the two patterns offered to the model.
type Candidate struct {
	Pattern     model.Pattern `json:"pattern"`
	Probability float64       `json:"probability"`
}

// Choice is the model's decision.
type Choice struct {
	Pattern    model.Pattern `json:"pattern"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
}

const systemPrompt = `You are an expert on corporate email address conventions.
Given a company and exactly two candidate naming patterns, pick the one the
company most likely uses. Consider sector norms, regional conventions, company
size, and domain style. Respond with only a JSON object:
{"pattern": "<one of the two candidates, verbatim>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

// Option configures the client.
type Option func(*sdkChooser)

// WithModel overrides the default model.
func WithModel(m string) Option {
	return func(c *sdkChooser) {
		c.model = m
	}
}

// WithMaxTokens overrides the default response token cap.
func WithMaxTokens(n int64) Option {
	return func(c *sdkChooser) {
		c.maxTokens = n
	}
}

type sdkChooser struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewClient creates a Chooser backed by the Anthropic SDK.
func NewClient(apiKey string, opts ...Option) Chooser {
	c := &sdkChooser{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sdkChooser) Choose(ctx context.Context, req ChoiceRequest) (*Choice, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "arbiter: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	choice, err := parseChoice(text.String())
	if err != nil {
		return nil, err
	}
	return choice, nil
}

func buildPrompt(req ChoiceRequest) (string, error) {
	payload := struct {
		Company    model.CompanyContext `json:"company"`
		Candidates [2]Candidate         `json:"candidates"`
	}{req.Context, req.Candidates}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "arbiter: marshal prompt")
	}
	return string(data), nil
}

// parseChoice extracts the JSON decision from the model's reply, tolerating
// surrounding prose or markdown fencing.
func parseChoice(text string) (*Choice, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("arbiter: no JSON object in response: %q", text)
	}

	var choice Choice
	if err := json.Unmarshal([]byte(text[start:end+1]), &choice); err != nil {
		return nil, eris.Wrap(err, "arbiter: unmarshal choice")
	}
	choice.Pattern = model.Pattern(strings.TrimSpace(string(choice.Pattern)))
	return &choice, nil
}
