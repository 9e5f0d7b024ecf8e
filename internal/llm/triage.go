package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/schema"
)

const (
	maxFollowups  = 5
	mockModel     = "mock-llm"
	fallbackModel = "local-fallback"
)

const triageSystemPrompt = "You are Dr. Intelligence, a caring and experienced medical consultant. " +
	"Your goal is to have a natural, supportive conversation about the user's health. " +
	"**Persona Guidelines**:\n" +
	"1. **Be Human & Varied**: Speak naturally. Do NOT use rigid templates. Vary your opening and closing phrases.\n" +
	"2. **Avoid Repetition**: NEVER start with 'Based on your medical information' or 'I see that'.\n" +
	"3. **Be Specific**: Reference their actual numbers (e.g., 'Your glucose is 105') so they know you're looking at *their* data.\n" +
	"4. **Be Proactive**: If you see a risk, suggest a fix before they ask. Connect the dots between different results.\n" +
	"5. **Tone**: Warm, professional, and encouraging. Like a doctor who knows you well.\n" +
	"**Formatting**:\n" +
	"Use markdown for readability (bullet points are good), but keep it looking like a chat message, not a formal report. " +
	"Avoid unnecessary section headers unless the answer is long."

// TriageRequest asks for an explanation of a feature vector and, if one was
// made, its prediction.
type TriageRequest struct {
	Task       schema.Task     `json:"task"`
	Features   map[string]any  `json:"features"`
	Prediction *predict.Result `json:"prediction,omitempty"`
	Question   string          `json:"question,omitempty"`
}

// TriageResponse is the advice shown to the user.
type TriageResponse struct {
	Summary   string   `json:"triage_summary"`
	Followups []string `json:"followups"`
	Model     string   `json:"model_name"`
}

// Advisor answers triage questions. A failing provider degrades to a local
// heuristic summary rather than an error.
type Advisor struct {
	client   *Client
	registry *schema.Registry
	mock     bool
	logger   zerolog.Logger
}

// NewAdvisor returns an advisor. client may be nil, in which case every
// answer comes from the local fallback. mock answers without any provider.
func NewAdvisor(client *Client, registry *schema.Registry, mock bool, logger zerolog.Logger) *Advisor {
	return &Advisor{
		client:   client,
		registry: registry,
		mock:     mock,
		logger:   logger.With().Str("component", "triage").Logger(),
	}
}

// Ask answers req. Only an unknown task is an error.
func (a *Advisor) Ask(ctx context.Context, req TriageRequest) (*TriageResponse, error) {
	s, err := a.registry.SchemaFor(req.Task)
	if err != nil {
		return nil, err
	}
	keys := featureKeys(s, req.Features)

	if a.mock {
		return mockAnswer(req, keys), nil
	}
	if a.client != nil {
		reply, err := a.client.chat(ctx, triageSystemPrompt, triagePrompt(s, req), chatOptions{temperature: 0.7})
		if err == nil {
			return &TriageResponse{
				Summary:   reply,
				Followups: ParseFollowups(reply),
				Model:     a.client.Model(),
			}, nil
		}
		a.logger.Warn().Err(err).Str("task", string(req.Task)).Msg("triage provider failed, using local fallback")
	}
	return fallbackAnswer(req, keys), nil
}

// IsFollowup reports whether the question carries earlier conversation.
func IsFollowup(question string) bool {
	if len(question) <= 50 {
		return false
	}
	return strings.Contains(question, "Recent Conversation:") || strings.Contains(question, "Patient:")
}

func triagePrompt(s *schema.Schema, req TriageRequest) string {
	featuresJSON := prettyJSON(req.Features)
	var predictionJSON string
	if req.Prediction != nil {
		predictionJSON = prettyJSON(req.Prediction)
	}

	var b strings.Builder
	if IsFollowup(req.Question) {
		question := req.Question
		if i := strings.LastIndex(question, "User Question:"); i >= 0 {
			question = question[i+len("User Question:"):]
		}
		b.WriteString("As Dr. Intelligence, continue the conversation naturally:\n\n")
		fmt.Fprintf(&b, "**Context**:\nUser's Question: %s\n\n", strings.TrimSpace(question))
		fmt.Fprintf(&b, "**Medical Data**:\n%s\n\n", orDefault(featuresJSON, "No specific lab data available"))
		fmt.Fprintf(&b, "**Previous Analysis**:\n%s\n\n", orDefault(predictionJSON, "No previous analysis"))
		b.WriteString("**Instructions**:\n" +
			"1. **Answer Directly**: Address their specific question immediately.\n" +
			"2. **Be Conversational**: Connect back to what you said before.\n" +
			"3. **New Info Only**: Don't repeat general advice.\n" +
			"4. **Actionable Advice**: Give 2-3 clear, practical tips they can use right now.\n\n")
		b.WriteString("**Important**:\nEducational only. Consult a doctor for medical advice.\n\n")
		b.WriteString("**Length**: Keep it concise (6-10 lines). Focus on value.")
		return b.String()
	}

	b.WriteString("As Dr. Intelligence, give a warm, insightful medical analysis:\n\n")
	fmt.Fprintf(&b, "**Patient Query**: %s\n\n", orDefault(strings.TrimSpace(req.Question), "General health consultation"))
	fmt.Fprintf(&b, "**Clinical Data**:\n%s\n\n", orDefault(featuresJSON, "{}"))
	fmt.Fprintf(&b, "**AI Analysis**:\n%s\n\n", orDefault(predictionJSON, "Not provided"))
	fmt.Fprintf(&b, "**Reference Ranges**:\n%s\n\n", orDefault(rangesJSON(s), "Standard clinical ranges"))
	b.WriteString("**Instructions**:\n" +
		"1. **Start Fresh**: Open with a unique, personalized observation.\n" +
		"2. **Explain Clearly**: What do the numbers mean for *them*? Avoid medical jargon where possible.\n" +
		"3. **Action Plan**: Give 2-3 specific things they can do (diet, exercise, lifestyle).\n" +
		"4. **Next Steps**: What should they focus on before the next visit?\n\n")
	b.WriteString("**Important**:\nEducational only. Consult a doctor for medical advice.\n\n")
	b.WriteString("**Length**: Concise and punchy (8-12 lines). Make every word count.")
	return b.String()
}

// ParseFollowups picks the questions out of a reply: lines that end in or
// contain a question mark or that start with "ask", at most five.
func ParseFollowups(reply string) []string {
	out := []string{}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-•"))
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "ask") || strings.Contains(line, "?") {
			out = append(out, line)
			if len(out) == maxFollowups {
				break
			}
		}
	}
	return out
}

func mockAnswer(req TriageRequest, keys []string) *TriageResponse {
	parts := summaryHead(req, keys)
	parts = append(parts, "Advice: Maintain a balanced diet, regular exercise, and routine check-ups. Monitor any new or worsening symptoms.")

	followups := make([]string, 0, len(keys))
	for _, k := range keys {
		followups = append(followups, fmt.Sprintf("Have you noticed any changes related to %s?", k))
	}
	if len(followups) == 0 {
		followups = []string{
			"Any recent changes in your health?",
			"Do you have any specific concerns to discuss?",
		}
	}
	return &TriageResponse{Summary: strings.Join(parts, "\n"), Followups: followups, Model: mockModel}
}

func fallbackAnswer(req TriageRequest, keys []string) *TriageResponse {
	parts := summaryHead(req, keys)
	parts = append(parts, "Unable to contact LLM service; providing a concise heuristic summary. Consider clinical consultation if symptoms persist or worsen.")

	followups := make([]string, 0, len(keys))
	for _, k := range keys {
		followups = append(followups, fmt.Sprintf("Do you experience issues related to %s?", k))
	}
	return &TriageResponse{Summary: strings.Join(parts, "\n"), Followups: followups, Model: fallbackModel}
}

func summaryHead(req TriageRequest, keys []string) []string {
	var parts []string
	if q := strings.TrimSpace(req.Question); q != "" {
		parts = append(parts, "Chief complaint: "+q)
	}
	parts = append(parts, fmt.Sprintf("Triage summary for %s based on provided features.", req.Task))
	if len(keys) > 0 {
		parts = append(parts, "Key inputs: "+strings.Join(keys, ", "))
	}
	if p := req.Prediction; p != nil {
		parts = append(parts, fmt.Sprintf("Model output: label=%d, probability=%.2f, health_score=%.1f", p.Label, p.Probability, p.HealthScore))
	}
	return parts
}

// featureKeys returns up to five feature names, schema fields first.
func featureKeys(s *schema.Schema, feats map[string]any) []string {
	keys := make([]string, 0, len(feats))
	for k := range feats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := s.Position(keys[i]), s.Position(keys[j])
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > maxFollowups {
		keys = keys[:maxFollowups]
	}
	return keys
}

type rangeJSON struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Unit string  `json:"unit,omitempty"`
}

func rangesJSON(s *schema.Schema) string {
	ranges := make(map[string]rangeJSON)
	for _, f := range s.Fields() {
		if f.Range != nil {
			ranges[f.Name] = rangeJSON{Min: f.Range.Min, Max: f.Range.Max, Unit: f.Unit}
		}
	}
	if len(ranges) == 0 {
		return ""
	}
	return prettyJSON(ranges)
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil || string(b) == "null" {
		return ""
	}
	return string(b)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
