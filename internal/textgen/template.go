// ABOUTME: Offline Generator that writes a rule-based session from the risk flags.
// ABOUTME: Used when no model is configured and as a deterministic generator in tests.
package textgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/harperreed/coach/internal/models"
)

// Template writes recommendations without a model.
type Template struct{}

// Generate implements Generator.
func (Template) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a := req.Snapshot.Assessment
	var session string
	switch {
	case a.HasFlag(models.FlagHighACWR) || a.HasFlag(models.FlagNoRestDays):
		session = "Rest day, or 20-30 minutes of very easy mobility work."
	case a.HasFlag(models.FlagLoadDivergence):
		session = "Easy aerobic session of 30-40 minutes; keep heart rate conversational."
	case a.HasFlag(models.FlagDetraining):
		session = "Steady aerobic session of 45-60 minutes with 4-6 short strides."
	case a.ACWR == nil:
		session = "Easy 30-minute session to start building a baseline."
	default:
		session = "Moderate session of 45 minutes including 3 x 6 minutes at tempo effort."
	}

	var why []string
	for _, f := range a.Flags {
		why = append(why, string(f))
	}
	reason := "load is in a productive range"
	if len(why) > 0 {
		reason = "flags: " + strings.Join(why, ", ")
	}
	return fmt.Sprintf("%s: %s (%s)", req.TargetDate, session, reason), nil
}
