// Package assistant answers free-text questions about the inventory. It
// never returns an error: any failure turns into FallbackMessage.
package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"toolcustody/metrics"
	"toolcustody/models"
)

const FallbackMessage = "The assistant is not available right now. Please check the inventory list directly."

const systemPrompt = `You help construction site staff find tools.
Answer only from the inventory snapshot you are given. Be brief.
If the snapshot does not contain the answer, say so.`

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ToolSummary is what the assistant gets to see of a tool.
type ToolSummary struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	Category       string `json:"category"`
	Holder         string `json:"holder,omitempty"`
	Site           string `json:"site,omitempty"`
	LastActionDate string `json:"lastActionDate,omitempty"`
}

func Summaries(tools []models.Tool) []ToolSummary {
	out := make([]ToolSummary, 0, len(tools))
	for _, t := range tools {
		s := ToolSummary{Name: t.Name, Status: string(t.Status), Category: t.Category}
		if t.HolderName != nil {
			s.Holder = *t.HolderName
		}
		if t.CurrentSite != nil {
			s.Site = *t.CurrentSite
		}
		if last, ok := t.LastAction(); ok {
			s.LastActionDate = last.Timestamp.Format("2006-01-02")
		}
		out = append(out, s)
	}
	return out
}

type Assistant struct {
	gen     Generator
	Timeout time.Duration
}

// New returns an assistant; a nil generator always answers with the fallback.
func New(gen Generator) *Assistant {
	return &Assistant{gen: gen, Timeout: 20 * time.Second}
}

func (a *Assistant) Enabled() bool { return a != nil && a.gen != nil }

func (a *Assistant) Ask(ctx context.Context, query string, tools []ToolSummary) string {
	query = strings.TrimSpace(query)
	if !a.Enabled() || query == "" {
		metrics.AssistantFallbacks.Inc()
		return FallbackMessage
	}
	snapshot, err := json.Marshal(tools)
	if err != nil {
		metrics.AssistantFallbacks.Inc()
		return FallbackMessage
	}
	prompt := "Inventory snapshot (JSON):\n" + string(snapshot) + "\n\nQuestion: " + query

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	answer, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("assistant query failed", "err", err)
		metrics.AssistantFallbacks.Inc()
		return FallbackMessage
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		metrics.AssistantFallbacks.Inc()
		return FallbackMessage
	}
	return answer
}
