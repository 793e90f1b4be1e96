package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"postcraft/internal/usertoken"
	"postcraft/internal/util"
	"postcraft/pkg/domain"
	"postcraft/pkg/events"
	"postcraft/pkg/queue"
	"postcraft/pkg/storage"
	"postcraft/pkg/store"
	"postcraft/services/generator/internal/enforce"
	"postcraft/services/generator/internal/ledger"
	"postcraft/services/generator/internal/pipeline"
	"postcraft/services/generator/internal/references"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
	cleanupTimeout   = 15 * time.Second
)

// Stages is the model-backed part of a generation.
type Stages interface {
	Style(ctx context.Context, references []string) (domain.StyleProfile, error)
	Draft(ctx context.Context, in domain.GenerateInput, profile *domain.StyleProfile) (domain.Output, error)
	Rewrite(ctx context.Context, stage domain.Stage, in domain.GenerateInput, draft domain.Output) (domain.Output, error)
}

// ReferenceGatherer turns manual texts and URLs into a reference corpus.
type ReferenceGatherer interface {
	Gather(ctx context.Context, manual, urls []string) ([]string, domain.ReferenceStats, []references.Result)
}

// Cooldown spaces out generation calls per user.
type Cooldown interface {
	Acquire(ctx context.Context, key string) (bool, time.Duration, error)
	Release(ctx context.Context, key string) error
}

// CorpusArchiver keeps the reference corpus of successful jobs.
type CorpusArchiver interface {
	Save(ctx context.Context, snap storage.CorpusSnapshot) (string, error)
	Remove(ctx context.Context, uid, generationID string) error
}

// RefundEnqueuer defers refunds that could not be committed inline.
type RefundEnqueuer interface {
	Enqueue(ctx context.Context, generationID, reason string) (queue.RefundTask, error)
}

// Config holds the collaborators of the generation service.
type Config struct {
	Store      store.Store
	Stages     Stages
	References ReferenceGatherer
	Cooldown   Cooldown
	Archive    CorpusArchiver
	Events     events.Publisher
	Refunds    RefundEnqueuer
	Logger     *slog.Logger
	// StaleAfter is the age past which a pending job counts as interrupted.
	StaleAfter time.Duration
}

// App orchestrates credit metering, reference gathering, the model stages
// and persistence of generation jobs.
type App struct {
	store      store.Store
	ledger     *ledger.Ledger
	stages     Stages
	refs       ReferenceGatherer
	enforcer   *enforce.Enforcer
	cooldown   Cooldown
	archive    CorpusArchiver
	events     events.Publisher
	refunds    RefundEnqueuer
	validate   *validator.Validate
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Stages == nil {
		return nil, fmt.Errorf("generation stages required")
	}
	if cfg.References == nil {
		return nil, fmt.Errorf("reference resolver required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &App{
		store:      cfg.Store,
		ledger:     ledger.New(cfg.Store),
		stages:     cfg.Stages,
		refs:       cfg.References,
		enforcer:   enforce.New(cfg.Stages, logger),
		cooldown:   cfg.Cooldown,
		archive:    cfg.Archive,
		events:     publisher,
		refunds:    cfg.Refunds,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Meta summarizes how a generation was produced.
type Meta struct {
	Platform  domain.Platform `json:"platform"`
	Purpose   string          `json:"purpose"`
	StyleUsed bool            `json:"styleUsed"`
}

// GenerateResult is the response of a successful generation.
type GenerateResult struct {
	GenerationID     string                `json:"generationId"`
	CreditsRemaining int                   `json:"creditsRemaining"`
	Output           domain.Output         `json:"output"`
	StyleProfile     *domain.StyleProfile  `json:"styleProfile"`
	ReferenceStats   domain.ReferenceStats `json:"referenceStats"`
	Meta             Meta                  `json:"meta"`
}

// Generate runs one metered generation for caller. Once a credit is
// reserved, every failure is persisted with its stage and refunded before
// a *GenerationFailedError is returned.
func (a *App) Generate(ctx context.Context, caller usertoken.Caller, in domain.GenerateInput) (GenerateResult, error) {
	in = normalizeInput(in)
	if err := a.Validate(in); err != nil {
		return GenerateResult{}, err
	}

	if a.cooldown != nil {
		ok, wait, err := a.cooldown.Acquire(ctx, caller.UID)
		if err != nil {
			a.logger.Error("cooldown check failed", "uid", caller.UID, "err", err)
			return GenerateResult{}, &RetryAfterError{Err: ErrRateLimited, After: time.Second}
		}
		if !ok {
			return GenerateResult{}, &RetryAfterError{Err: ErrRateLimited, After: wait}
		}
	}

	now := a.now().Truncate(time.Millisecond)
	job := domain.Generation{
		ID:        util.NewID(),
		UID:       caller.UID,
		Input:     in,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	reservation, err := a.ledger.Reserve(ctx, caller.UID, caller.Email, &job)
	if err != nil {
		a.releaseCooldown(ctx, caller.UID)
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return GenerateResult{}, ErrInsufficientCredits
		}
		a.logger.Error("credit reservation failed", "uid", caller.UID, "err", err)
		return GenerateResult{}, fmt.Errorf("%w: reserve credit: %v", ErrPersistence, err)
	}

	logger := a.logger.With("generation_id", job.ID, "uid", caller.UID)
	logger.Info("generation started",
		"platform", in.Platform, "purpose", in.Purpose,
		"reference_urls", len(in.ReferenceURLs), "used_free_trial", reservation.UsedFreeTrialThisCall)

	results, err := a.run(ctx, &job, logger)
	if err != nil {
		return GenerateResult{}, a.fail(ctx, job, err, logger)
	}

	if err := a.persistSuccess(ctx, &job, logger); err != nil {
		stage := domain.StagePersist
		if errors.Is(err, errSwept) {
			stage = domain.StageInterrupted
		}
		return GenerateResult{}, a.fail(ctx, job, &pipeline.StageError{Stage: stage, Err: err}, logger)
	}
	logger.Info("generation succeeded", "text_count", job.ReferenceStats.TextCount, "style_used", job.StyleProfile != nil)

	a.archiveCorpus(ctx, job, results, logger)
	a.publish(ctx, events.Event{Type: events.TypeGenerationSucceeded, GenerationID: job.ID, UID: job.UID,
		Attrs: map[string]any{"platform": string(in.Platform), "purpose": in.Purpose}}, logger)

	return GenerateResult{
		GenerationID:     job.ID,
		CreditsRemaining: reservation.CreditsRemaining,
		Output:           *job.Output,
		StyleProfile:     job.StyleProfile,
		ReferenceStats:   job.ReferenceStats,
		Meta: Meta{
			Platform:  in.Platform,
			Purpose:   in.Purpose,
			StyleUsed: job.StyleProfile != nil,
		},
	}, nil
}

// run fills job with references, style profile and final output.
func (a *App) run(ctx context.Context, job *domain.Generation, logger *slog.Logger) ([]references.Result, error) {
	in := job.Input
	texts, stats, results := a.refs.Gather(ctx, in.References, in.ReferenceURLs)
	job.ReferenceStats = stats
	for _, res := range results {
		if res.Source == references.SourceNone {
			logger.Info("reference url yielded no text", "url", res.URL)
		}
	}

	if len(texts) > 0 && in.StyleWanted() {
		profile, err := a.stages.Style(ctx, texts)
		if err != nil {
			return nil, err
		}
		job.StyleProfile = &profile
	}

	draft, err := a.stages.Draft(ctx, in, job.StyleProfile)
	if err != nil {
		return nil, err
	}
	final, err := a.stages.Rewrite(ctx, domain.StageRewrite, in, draft)
	if err != nil {
		return nil, err
	}
	final, report, err := a.enforcer.Run(ctx, in, final)
	if err != nil {
		return nil, err
	}
	if len(report.AppendedPhrases) > 0 || len(report.AppendedMarkers) > 0 || report.LeakRewrites > 0 {
		logger.Info("enforcement adjusted output",
			"appended_phrases", len(report.AppendedPhrases),
			"appended_markers", len(report.AppendedMarkers),
			"leak_rewrites", report.LeakRewrites,
			"leak_persisted", report.LeakPersisted)
	}
	job.Output = &final
	return results, nil
}

// persistSuccess writes both projections of the finished job in one
// transaction. Only a pending job can succeed: once the sweeper closed it
// the credit is already back with the user, so the result is dropped.
func (a *App) persistSuccess(ctx context.Context, job *domain.Generation, logger *slog.Logger) error {
	return a.store.InTx(ctx, func(tx store.Tx) error {
		current, ok, err := tx.LockGeneration(job.ID)
		if err != nil {
			return err
		}
		if ok {
			if current.Status != domain.StatusPending {
				logger.Warn("generation finished after it was swept", "status", current.Status, "refunded", current.Refunded)
				return errSwept
			}
			job.UsedFreeTrial = current.UsedFreeTrial
			job.Refunded = current.Refunded
		}
		job.Status = domain.StatusSuccess
		job.Stage = ""
		job.Error = ""
		job.UpdatedAt = a.now()
		return tx.SaveGeneration(*job)
	})
}

// fail records job as failed and refunds its credit. It runs detached from
// ctx so a client disconnect cannot skip the refund.
func (a *App) fail(ctx context.Context, job domain.Generation, cause error, logger *slog.Logger) error {
	stage, ok := pipeline.StageOf(cause)
	if !ok {
		stage = domain.StageInternal
	}
	logger.Error("generation failed", "stage", stage, "err", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := a.markFailed(ctx, job, stage); err != nil {
		logger.Error("persist failed generation", "err", err)
	}
	failure := &GenerationFailedError{GenerationID: job.ID, Stage: stage, Err: cause}

	refunded, err := a.ledger.Refund(ctx, job.ID)
	switch {
	case err == nil:
		failure.Refunded = true
		if refunded {
			logger.Info("credit refunded")
		}
	case a.refunds != nil:
		logger.Error("inline refund failed, deferring", "err", err)
		if _, qerr := a.refunds.Enqueue(ctx, job.ID, string(stage)); qerr != nil {
			logger.Error("enqueue refund failed", "err", qerr)
		} else {
			failure.RefundQueued = true
		}
	default:
		logger.Error("inline refund failed", "err", err)
	}

	a.publish(ctx, events.Event{Type: events.TypeGenerationFailed, GenerationID: job.ID, UID: job.UID, Stage: string(stage)}, logger)
	if refunded {
		a.publish(ctx, events.Event{Type: events.TypeCreditsRefunded, GenerationID: job.ID, UID: job.UID}, logger)
	}
	return failure
}

// markFailed stores the failed record unless the job already left pending.
func (a *App) markFailed(ctx context.Context, job domain.Generation, stage domain.Stage) error {
	return a.store.InTx(ctx, func(tx store.Tx) error {
		current, ok, err := tx.LockGeneration(job.ID)
		if err != nil {
			return err
		}
		if ok && current.Status != domain.StatusPending {
			return nil
		}
		if ok {
			job.UsedFreeTrial = current.UsedFreeTrial
			job.Refunded = current.Refunded
		}
		job.Status = domain.StatusFailed
		job.Stage = stage
		job.Error = failureMessage(stage)
		job.Output = nil
		job.UpdatedAt = a.now()
		return tx.SaveGeneration(job)
	})
}

func failureMessage(stage domain.Stage) string {
	return fmt.Sprintf("generation failed at %s stage", stage)
}

func (a *App) releaseCooldown(ctx context.Context, uid string) {
	if a.cooldown == nil {
		return
	}
	if err := a.cooldown.Release(context.WithoutCancel(ctx), uid); err != nil {
		a.logger.Warn("cooldown release failed", "uid", uid, "err", err)
	}
}

func (a *App) archiveCorpus(ctx context.Context, job domain.Generation, results []references.Result, logger *slog.Logger) {
	if a.archive == nil {
		return
	}
	snap := storage.CorpusSnapshot{GenerationID: job.ID, UID: job.UID}
	for _, text := range job.Input.References {
		snap.References = append(snap.References, storage.ArchivedReference{Source: "manual", Text: text})
	}
	for _, res := range results {
		if res.Source == references.SourceNone {
			continue
		}
		snap.References = append(snap.References, storage.ArchivedReference{URL: res.URL, Source: string(res.Source), Text: res.Text})
	}
	if _, err := a.archive.Save(ctx, snap); err != nil {
		logger.Warn("archive reference corpus failed", "err", err)
	}
}

func (a *App) publish(ctx context.Context, evt events.Event, logger *slog.Logger) {
	if err := a.events.Publish(ctx, evt); err != nil {
		logger.Warn("publish event failed", "type", evt.Type, "err", err)
	}
}

// Validate checks a generation request.
func (a *App) Validate(in domain.GenerateInput) error {
	if err := a.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "malformed request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}

func normalizeInput(in domain.GenerateInput) domain.GenerateInput {
	in.Topic = strings.TrimSpace(in.Topic)
	in.ExtraPrompt = strings.TrimSpace(in.ExtraPrompt)
	in.Keywords = compact(in.Keywords)
	in.References = compact(in.References)
	in.ReferenceURLs = compact(in.ReferenceURLs)
	in.RequiredContent = compact(in.RequiredContent)
	in.MustInclude = compact(in.MustInclude)
	in.BannedWords = compact(in.BannedWords)
	return in
}

// compact trims entries and drops the empty ones.
func compact(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
