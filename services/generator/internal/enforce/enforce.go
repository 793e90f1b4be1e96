package enforce

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"postcraft/pkg/domain"
)

// Rewriter is the pipeline stage used for the single leak correction.
type Rewriter interface {
	Rewrite(ctx context.Context, stage domain.Stage, in domain.GenerateInput, draft domain.Output) (domain.Output, error)
}

// Report describes what the pass changed or noticed.
type Report struct {
	AppendedPhrases []string `json:"appendedPhrases,omitempty"`
	AppendedMarkers []string `json:"appendedMarkers,omitempty"`
	LeakRewrites    int      `json:"leakRewrites"`
	LeakPersisted   bool     `json:"leakPersisted,omitempty"`
	BannedFound     []string `json:"bannedFound,omitempty"`
}

// Enforcer applies the post-rewrite compliance checks.
type Enforcer struct {
	rewriter Rewriter
	logger   *slog.Logger
}

func New(rewriter Rewriter, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{rewriter: rewriter, logger: logger}
}

// Run enforces must-include phrases and placeholders on out, then runs the
// leak check. A leak triggers exactly one corrective rewrite whose body
// replaces the current one; a leak that survives it is accepted and logged.
// Only a failed corrective rewrite returns an error.
func (e *Enforcer) Run(ctx context.Context, in domain.GenerateInput, out domain.Output) (domain.Output, Report, error) {
	var report Report
	out = out.Clone()
	phrases := RequiredPhrases(in)

	report.AppendedPhrases = ApplyMustInclude(&out, phrases)
	report.AppendedMarkers = ApplyPlaceholders(&out, in.Placeholders)

	if leaks := LeakedNotes(out.Body(), in.Placeholders); len(leaks) > 0 {
		e.logger.Info("placeholder note leaked, rewriting once", "leaks", len(leaks))
		report.LeakRewrites = 1
		fixed, err := e.rewriter.Rewrite(ctx, domain.StageLeakRewrite, in, out)
		if err != nil {
			return domain.Output{}, report, err
		}
		out.SetBody(fixed.Body())
		report.AppendedPhrases = append(report.AppendedPhrases, ApplyMustInclude(&out, phrases)...)
		report.AppendedMarkers = append(report.AppendedMarkers, ApplyPlaceholders(&out, in.Placeholders)...)
		if still := LeakedNotes(out.Body(), in.Placeholders); len(still) > 0 {
			report.LeakPersisted = true
			e.logger.Warn("leak_persisted", "leaks", len(still))
		}
	}

	report.BannedFound = BannedFound(out.AllText(), in.BannedWords)
	if len(report.BannedFound) > 0 {
		e.logger.Warn("banned words present in output", "count", len(report.BannedFound))
	}
	return out, report, nil
}

// RequiredPhrases lists the phrases that must appear verbatim.
func RequiredPhrases(in domain.GenerateInput) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{in.MustInclude, in.RequiredContent} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			key := normalize(p)
			if p == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

// normalize collapses whitespace runs and lower-cases s.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// MissingPhrases returns the phrases not contained in text after
// whitespace normalization of both sides.
func MissingPhrases(text string, phrases []string) []string {
	haystack := normalize(text)
	var missing []string
	for _, p := range phrases {
		needle := normalize(p)
		if needle == "" {
			continue
		}
		if !strings.Contains(haystack, needle) {
			missing = append(missing, p)
		}
	}
	return missing
}

// ApplyMustInclude appends missing phrases verbatim to the platform's
// designated field and returns what it appended.
func ApplyMustInclude(out *domain.Output, phrases []string) []string {
	missing := MissingPhrases(out.AllText(), phrases)
	if len(missing) > 0 {
		out.AppendRequired(strings.Join(missing, "\n"))
	}
	return missing
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// ApplyPlaceholders appends absent markers to the body, then puts every
// marker occurrence on a line of its own.
func ApplyPlaceholders(out *domain.Output, placeholders []domain.Placeholder) []string {
	if len(placeholders) == 0 {
		return nil
	}
	body := out.Body()
	var appended []string
	for _, p := range placeholders {
		marker := strings.TrimSpace(p.Marker)
		if marker == "" || strings.Contains(body, marker) {
			continue
		}
		appended = append(appended, marker)
	}
	if len(appended) > 0 {
		body = strings.TrimRight(body, " \t\n") + "\n\n" + strings.Join(appended, "\n")
	}
	out.SetBody(IsolateMarkers(body, placeholders))
	return appended
}

// IsolateMarkers inserts line breaks around each marker occurrence.
func IsolateMarkers(body string, placeholders []domain.Placeholder) string {
	for _, p := range placeholders {
		marker := strings.TrimSpace(p.Marker)
		if marker == "" {
			continue
		}
		re := regexp.MustCompile(`\n*[ \t]*` + regexp.QuoteMeta(marker) + `[ \t]*\n*`)
		body = re.ReplaceAllString(body, "\n"+escapeReplacement(marker)+"\n")
	}
	body = blankRuns.ReplaceAllString(body, "\n\n")
	return strings.Trim(body, "\n")
}

func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// LeakedNotes returns the placeholder notes found in body, ignoring case.
func LeakedNotes(body string, placeholders []domain.Placeholder) []string {
	lower := strings.ToLower(body)
	var leaks []string
	for _, p := range placeholders {
		note := strings.TrimSpace(p.Note)
		if note == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(note)) {
			leaks = append(leaks, note)
		}
	}
	return leaks
}

// BannedFound returns the banned words present in text, ignoring case.
func BannedFound(text string, words []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			found = append(found, w)
		}
	}
	return found
}
