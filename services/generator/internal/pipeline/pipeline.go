package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"postcraft/pkg/ai"
	"postcraft/pkg/domain"
)

const defaultTemperature = 0.3

// StageError tags a failure with the pipeline stage it happened in.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage carried by err, if any.
func StageOf(err error) (domain.Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Models names the model used by each stage.
type Models struct {
	Style   string
	Draft   string
	Rewrite string
}

// Pipeline runs the style, draft and rewrite stages against a Generator.
type Pipeline struct {
	gen          ai.Generator
	models       Models
	stageTimeout time.Duration
}

func New(gen ai.Generator, models Models, stageTimeout time.Duration) *Pipeline {
	if models.Rewrite == "" {
		models.Rewrite = models.Draft
	}
	if stageTimeout <= 0 {
		stageTimeout = 2 * time.Minute
	}
	return &Pipeline{gen: gen, models: models, stageTimeout: stageTimeout}
}

func (p *Pipeline) call(ctx context.Context, stage domain.Stage, model, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	raw, err := p.gen.GenerateJSON(ctx, ai.Request{
		Model:       model,
		System:      systemPrompt,
		User:        user,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", &StageError{Stage: stage, Err: err}
	}
	return raw, nil
}

// Style derives a style profile from the reference corpus.
func (p *Pipeline) Style(ctx context.Context, references []string) (domain.StyleProfile, error) {
	raw, err := p.call(ctx, domain.StageStyle, p.models.Style, stylePrompt(TrimCorpus(references, DefaultCorpusLimit)))
	if err != nil {
		return domain.StyleProfile{}, err
	}
	var profile domain.StyleProfile
	if err := ai.DecodeJSON(raw, &profile); err != nil {
		return domain.StyleProfile{}, &StageError{Stage: domain.StageStyle, Err: err}
	}
	if strings.TrimSpace(profile.SpeechLevel) == "" && strings.TrimSpace(profile.Tone) == "" {
		return domain.StyleProfile{}, &StageError{Stage: domain.StageStyle, Err: errors.New("style profile missing speechLevel and tone")}
	}
	return profile, nil
}

// Draft produces the first platform-shaped output.
func (p *Pipeline) Draft(ctx context.Context, in domain.GenerateInput, profile *domain.StyleProfile) (domain.Output, error) {
	raw, err := p.call(ctx, domain.StageDraft, p.models.Draft, draftPrompt(in, profile))
	if err != nil {
		return domain.Output{}, err
	}
	return decodeOutput(domain.StageDraft, in.Platform, raw)
}

// Rewrite revises a draft for compliance. The leak corrective pass reuses
// it with stage leak_rewrite so failures are tagged apart.
func (p *Pipeline) Rewrite(ctx context.Context, stage domain.Stage, in domain.GenerateInput, draft domain.Output) (domain.Output, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return domain.Output{}, &StageError{Stage: stage, Err: err}
	}
	raw, err := p.call(ctx, stage, p.models.Rewrite, rewritePrompt(in, string(draftJSON)))
	if err != nil {
		return domain.Output{}, err
	}
	return decodeOutput(stage, in.Platform, raw)
}

func decodeOutput(stage domain.Stage, platform domain.Platform, raw string) (domain.Output, error) {
	out, err := domain.DecodeOutput(platform, []byte(ai.ExtractJSON(raw)))
	if err != nil {
		return domain.Output{}, &StageError{Stage: stage, Err: err}
	}
	return out, nil
}
