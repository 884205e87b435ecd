package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"toolcustody/models"
)

type fakeGen struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func TestAsk_UsesSnapshot(t *testing.T) {
	gen := &fakeGen{answer: "  Jonas has the hammer drill. "}
	a := New(gen)
	tools := []ToolSummary{{Name: "Hammer drill", Status: "BOOKED_OUT", Holder: "Jonas"}}

	got := a.Ask(context.Background(), "who has the hammer drill?", tools)
	if got != "Jonas has the hammer drill." {
		t.Fatalf("answer = %q", got)
	}
	if !strings.Contains(gen.prompt, `"holder":"Jonas"`) || !strings.Contains(gen.prompt, "who has the hammer drill?") {
		t.Errorf("prompt = %s", gen.prompt)
	}
}

func TestAsk_NeverFails(t *testing.T) {
	cases := map[string]*Assistant{
		"no generator": New(nil),
		"error":        New(&fakeGen{err: errors.New("quota exceeded")}),
		"empty answer": New(&fakeGen{answer: "  "}),
	}
	for name, a := range cases {
		if got := a.Ask(context.Background(), "anything", nil); got != FallbackMessage {
			t.Errorf("%s: answer = %q", name, got)
		}
	}
	var nilAssistant *Assistant
	if got := nilAssistant.Ask(context.Background(), "q", nil); got != FallbackMessage {
		t.Errorf("nil assistant answer = %q", got)
	}
}

func TestSummaries(t *testing.T) {
	ts := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	tools := []models.Tool{{
		Name: "Saw", Status: models.StatusBookedOut, Category: "Power Tools",
		HolderID: models.Ptr("U2"), HolderName: models.Ptr("Jonas"), CurrentSite: models.Ptr("Lot 7"),
		Logs: []models.ToolLog{{Action: models.ActionBookOut, Timestamp: ts}},
	}}
	got := Summaries(tools)
	want := ToolSummary{Name: "Saw", Status: "BOOKED_OUT", Category: "Power Tools", Holder: "Jonas", Site: "Lot 7", LastActionDate: "2024-06-03"}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %+v", got)
	}
}
