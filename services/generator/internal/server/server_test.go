package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"postcraft/internal/ratelimit"
	"postcraft/internal/usertoken"
	"postcraft/pkg/domain"
	"postcraft/pkg/store"
	"postcraft/services/generator/internal/app"
	"postcraft/services/generator/internal/pipeline"
	"postcraft/services/generator/internal/references"
)

// tokenAuth accepts "Bearer <uid>".
type tokenAuth struct{}

func (tokenAuth) Authenticate(r *http.Request) (usertoken.Caller, error) {
	token := usertoken.BearerToken(r)
	if token == "" {
		return usertoken.Caller{}, usertoken.ErrMissingToken
	}
	if token == "bad" {
		return usertoken.Caller{}, errors.New("signature invalid")
	}
	return usertoken.Caller{UID: token, Email: token + "@example.com"}, nil
}

type fixedStages struct {
	draftErr error
}

func (f *fixedStages) Style(context.Context, []string) (domain.StyleProfile, error) {
	return domain.StyleProfile{SpeechLevel: "합니다체", Tone: "차분함"}, nil
}

func (f *fixedStages) Draft(_ context.Context, in domain.GenerateInput, _ *domain.StyleProfile) (domain.Output, error) {
	if f.draftErr != nil {
		return domain.Output{}, &pipeline.StageError{Stage: domain.StageDraft, Err: f.draftErr}
	}
	return domain.Output{Platform: domain.PlatformSNS, SNS: &domain.SNSOutput{Body: "짧은 글", Hashtags: []string{"#a"}}}, nil
}

func (f *fixedStages) Rewrite(_ context.Context, _ domain.Stage, _ domain.GenerateInput, draft domain.Output) (domain.Output, error) {
	return draft, nil
}

type fixture struct {
	srv   http.Handler
	store *store.MemoryStore
}

func newFixture(t *testing.T, stages app.Stages, ratePerWindow int) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	a, err := app.New(app.Config{
		Store:      s,
		Stages:     stages,
		References: references.NewResolver(10, logger),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewFixedWindowLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:rl", ratePerWindow, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	reg := prometheus.NewRegistry()
	srv := New(Config{
		App:      a,
		Auth:     tokenAuth{},
		Limiter:  limiter,
		Metrics:  NewMetrics(reg),
		Gatherer: reg,
	})
	return fixture{srv: srv.Router(), store: s}
}

func (f fixture) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+uid)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func generateBody() map[string]any {
	return map[string]any{
		"platform": "sns",
		"purpose":  "promo",
		"topic":    "봄 신상 원피스",
		"keywords": []string{"봄", "원피스", "신상"},
		"length":   "normal",
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestGenerateRequiresAuth(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 10)
	if rec := f.do(t, http.MethodPost, "/api/generate", "", generateBody()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/generate", "bad", generateBody()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGenerateSuccessThenOutOfCredits(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 10)

	rec := f.do(t, http.MethodPost, "/api/generate", "uid-1", generateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["generationId"] == "" || resp["creditsRemaining"] != float64(0) {
		t.Fatalf("response = %v", resp)
	}
	output, _ := resp["output"].(map[string]any)
	if output["body"] != "짧은 글" {
		t.Fatalf("output = %v", output)
	}
	meta, _ := resp["meta"].(map[string]any)
	if meta["platform"] != "sns" || meta["styleUsed"] != false {
		t.Fatalf("meta = %v", meta)
	}

	rec = f.do(t, http.MethodPost, "/api/generate", "uid-1", generateBody())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("second call status = %d", rec.Code)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 1)
	f.do(t, http.MethodPost, "/api/generate", "uid-1", "{")
	rec := f.do(t, http.MethodPost, "/api/generate", "uid-1", generateBody())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if _, ok, _ := f.store.GetAccount(context.Background(), "uid-1"); ok {
		t.Fatalf("throttled call must not touch credits")
	}
}

func TestGenerateStageFailureReportsRefund(t *testing.T) {
	f := newFixture(t, &fixedStages{draftErr: errors.New("secret upstream detail")}, 10)

	rec := f.do(t, http.MethodPost, "/api/generate", "uid-1", generateBody())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret upstream detail") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["stage"] != "draft" || resp["refunded"] != true || resp["error"] != "generation failed" {
		t.Fatalf("response = %v", resp)
	}

	me := decodeBody(t, f.do(t, http.MethodGet, "/api/me", "uid-1", nil))
	if me["credits"] != float64(1) || me["freeTrialUsed"] != false {
		t.Fatalf("account = %v", me)
	}
}

func TestGenerateFailureStatusByStage(t *testing.T) {
	s := &Server{}
	cases := map[domain.Stage]int{
		domain.StageDraft:       http.StatusBadGateway,
		domain.StageLeakRewrite: http.StatusBadGateway,
		domain.StagePersist:     http.StatusInternalServerError,
		domain.StageInternal:    http.StatusInternalServerError,
		domain.StageInterrupted: http.StatusInternalServerError,
	}
	for stage, want := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
		err := &app.GenerationFailedError{GenerationID: "gen-1", Stage: stage, Refunded: true}
		s.writeGenerateError(rec, req, "blog", err, time.Second)
		if rec.Code != want {
			t.Fatalf("stage %s: status = %d, want %d", stage, rec.Code, want)
		}
	}
}

func TestGenerateInvalidInput(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 10)
	if rec := f.do(t, http.MethodPost, "/api/generate", "uid-1", "not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := generateBody()
	body["keywords"] = []string{"하나"}
	if rec := f.do(t, http.MethodPost, "/api/generate", "uid-1", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/generate", "uid-1", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGenerationHistoryEndpoints(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 10)
	created := decodeBody(t, f.do(t, http.MethodPost, "/api/generate", "uid-1", generateBody()))
	id, _ := created["generationId"].(string)

	list := decodeBody(t, f.do(t, http.MethodGet, "/api/generations?limit=5", "uid-1", nil))
	items, _ := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", list)
	}
	if rec := f.do(t, http.MethodGet, "/api/generations?limit=x", "uid-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/generations?cursor=zzz", "uid-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, "/api/generations/"+id, "uid-2", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign get status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/generations/missing", "uid-1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d", rec.Code)
	}
	got := decodeBody(t, f.do(t, http.MethodGet, "/api/generations/"+id, "uid-1", nil))
	if got["status"] != "success" || got["uid"] != "uid-1" {
		t.Fatalf("record = %v", got)
	}

	if rec := f.do(t, http.MethodDelete, "/api/generations/"+id, "uid-2", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign delete status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/generations/"+id, "uid-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/generations/"+id, "uid-1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestStyleProfileEndpoint(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 10)
	if rec := f.do(t, http.MethodPost, "/api/style-profile", "uid-1", map[string]any{"references": []string{}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty references status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/style-profile", "uid-1", map[string]any{"references": []string{"예시 글"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	profile, _ := resp["styleProfile"].(map[string]any)
	if profile["tone"] != "차분함" {
		t.Fatalf("response = %v", resp)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, &fixedStages{}, 10)
	if rec := f.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	f.do(t, http.MethodPost, "/api/generate", "uid-1", generateBody())
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `generator_generations_total{outcome="success",platform="sns"} 1`) {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}
