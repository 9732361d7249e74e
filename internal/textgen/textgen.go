// ABOUTME: Text-generation collaborator interface and the prompt built from a metrics snapshot.
// ABOUTME: Adapters (Gemini, template, guarded) all satisfy Generator.
package textgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/harperreed/coach/internal/models"
)

// Request is everything a generator may use to write a recommendation.
type Request struct {
	UserID       string
	TargetDate   models.Day
	Source       models.SourcePath
	Snapshot     models.MetricsSnapshot
	Observations []string
}

// Generator produces recommendation text. Implementations must honor ctx
// cancellation and deadlines.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// BuildPrompt renders the request as a coaching prompt.
func BuildPrompt(req Request) string {
	a := req.Snapshot.Assessment
	var b strings.Builder

	fmt.Fprintf(&b, "You are an endurance coach writing tomorrow's session for one athlete.\n\n")
	fmt.Fprintf(&b, "Target date: %s\n", req.TargetDate)
	fmt.Fprintf(&b, "Coaching style: %s\n", req.Snapshot.Style)
	fmt.Fprintf(&b, "Risk profile: %s\n", req.Snapshot.RiskProfile)
	fmt.Fprintf(&b, "Acute load (7d mean): %.1f\n", a.Window.AcuteLoad)
	fmt.Fprintf(&b, "Chronic load (28d mean): %.1f\n", a.Window.ChronicLoad)
	if a.ACWR != nil {
		fmt.Fprintf(&b, "ACWR: %.2f (%s)\n", *a.ACWR, a.ACWRLabel)
	} else {
		fmt.Fprintf(&b, "ACWR: unavailable (%s)\n", a.ACWRLabel)
	}
	if a.Divergence != nil {
		fmt.Fprintf(&b, "Internal vs external divergence: %+.2f\n", *a.Divergence)
	}
	fmt.Fprintf(&b, "Consecutive training days: %d\n", a.ConsecutiveTrainingDays)
	if len(a.Flags) > 0 {
		flags := make([]string, len(a.Flags))
		for i, f := range a.Flags {
			flags[i] = string(f)
		}
		fmt.Fprintf(&b, "Risk flags: %s\n", strings.Join(flags, ", "))
	}

	if n := len(req.Snapshot.Days); n > 0 {
		b.WriteString("\nRecent days (date, kind, load):\n")
		start := 0
		if n > 7 {
			start = n - 7
		}
		for _, d := range req.Snapshot.Days[start:] {
			fmt.Fprintf(&b, "- %s %s %.1f\n", d.Date, d.DayKind, d.TotalLoad)
		}
	}

	if len(req.Observations) > 0 {
		b.WriteString("\nAthlete notes:\n")
		for _, o := range req.Observations {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}

	b.WriteString("\nWrite one session for the target date in under 120 words. ")
	b.WriteString("If any risk flag is present, prioritise recovery over fitness.")
	return b.String()
}
