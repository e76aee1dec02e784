package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/stats"
)

// CoachReport is the structured feedback returned for a session.
type CoachReport struct {
	Summary   string   `json:"summary"`
	Strengths []string `json:"strengths"`
	Focus     []string `json:"focus"`
}

// String renders the report as plain text suitable for session notes.
func (r CoachReport) String() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(r.Summary))
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString("\n\n")
		sb.WriteString(title)
		sb.WriteString(":")
		for _, it := range items {
			sb.WriteString("\n- ")
			sb.WriteString(strings.TrimSpace(it))
		}
	}
	writeList("Strengths", r.Strengths)
	writeList("Focus", r.Focus)
	return sb.String()
}

// Client wraps the Anthropic API for session coaching.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildCoachPrompt constructs the system and user prompts for a session review.
// history may include the session itself; it is skipped.
func buildCoachPrompt(s *models.Session, history []*models.Session) (system string, user string) {
	system = `You are an experienced archery coach reviewing a scored practice session. Return ONLY a JSON object with these fields:
- "summary": 2-4 sentences on how the session went, referring to concrete numbers
- "strengths": up to 3 short observations of what went well
- "focus": up to 3 short, actionable things to work on next session

Rules:
- Base every statement on the scores provided; do not invent equipment or form details
- Compare with the recent sessions when they are given
- Misses (M) score 0; X is an inner ten and scores 10
- Return valid JSON only, no markdown fencing or explanation`

	sum := stats.Summarize(s)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", s.Name)
	fmt.Fprintf(&sb, "Date: %s\n", s.Date.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Face: %s at %dm\n", s.TargetType, s.Distance)
	fmt.Fprintf(&sb, "Ends shot: %d of %d, %d arrows per end\n", len(s.Ends), s.TotalEnds, s.ArrowsPerEnd)
	fmt.Fprintf(&sb, "Total: %d, average arrow %.2f, X %d, tens %d, misses %d\n",
		sum.TotalScore, sum.AverageArrow, sum.XCount, sum.TenCount, sum.MissCount)

	sb.WriteString("\nEnds:\n")
	for _, e := range s.Ends {
		labels := make([]string, len(e.Arrows))
		for i, a := range e.Arrows {
			labels[i] = a.Display
		}
		fmt.Fprintf(&sb, "%d: %s = %d\n", e.Number, strings.Join(labels, " "), e.Score())
	}

	var recent []string
	for _, h := range stats.Trend(history) {
		if h.SessionID == s.ID {
			continue
		}
		recent = append(recent, fmt.Sprintf("%s %s: average %.2f, total %d",
			h.Date.Format("2006-01-02"), h.Name, h.AverageArrow, h.TotalScore))
	}
	if len(recent) > 0 {
		sb.WriteString("\nRecent sessions (oldest first):\n")
		sb.WriteString(strings.Join(recent, "\n"))
		sb.WriteString("\n")
	}
	if s.Notes != "" {
		sb.WriteString("\nArcher's notes:\n")
		sb.WriteString(s.Notes)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// parseReport decodes the model's reply, tolerating markdown fencing.
func parseReport(text string) (*CoachReport, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var r CoachReport
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return nil, fmt.Errorf("LLM response has no summary")
	}
	return &r, nil
}

// Coach asks the model for feedback on a session.
func (c *Client) Coach(ctx context.Context, s *models.Session, history []*models.Session) (*CoachReport, error) {
	if len(s.Ends) == 0 {
		return nil, fmt.Errorf("session %q has no completed ends to review", s.Name)
	}
	systemPrompt, userPrompt := buildCoachPrompt(s, history)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}
	return parseReport(text)
}

// CoachSession returns the coaching report as plain text.
func (c *Client) CoachSession(ctx context.Context, s *models.Session, history []*models.Session) (string, error) {
	r, err := c.Coach(ctx, s, history)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}
