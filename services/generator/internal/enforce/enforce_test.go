package enforce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"postcraft/pkg/domain"
)

type stubRewriter struct {
	calls  int
	stages []domain.Stage
	body   string
	err    error
}

func (s *stubRewriter) Rewrite(_ context.Context, stage domain.Stage, _ domain.GenerateInput, draft domain.Output) (domain.Output, error) {
	s.calls++
	s.stages = append(s.stages, stage)
	if s.err != nil {
		return domain.Output{}, s.err
	}
	out := draft.Clone()
	out.SetBody(s.body)
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func blogOutput(body string) domain.Output {
	return domain.Output{
		Platform: domain.PlatformBlog,
		Blog: &domain.BlogOutput{
			TitleCandidates: []string{"제목"},
			Body:            body,
			Hashtags:        []string{"#a"},
		},
	}
}

func TestMustIncludeAppendedToStoreCautions(t *testing.T) {
	out := domain.Output{
		Platform: domain.PlatformStore,
		Store: &domain.StoreOutput{
			Hook:     "hook",
			Bullets:  []string{"a", "b", "c"},
			Sections: domain.StoreSections{Usage: "사용법", Cautions: "보관 주의"},
		},
	}
	in := domain.GenerateInput{Platform: domain.PlatformStore, MustInclude: []string{"전문가 상담 필요"}}

	e := New(&stubRewriter{}, quietLogger())
	got, report, err := e.Run(context.Background(), in, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(got.Store.Sections.Cautions, "전문가 상담 필요") {
		t.Fatalf("cautions = %q", got.Store.Sections.Cautions)
	}
	if len(report.AppendedPhrases) != 1 {
		t.Fatalf("appended = %v", report.AppendedPhrases)
	}
	if missing := MissingPhrases(got.AllText(), in.MustInclude); len(missing) != 0 {
		t.Fatalf("re-check still missing %v", missing)
	}
	if out.Store.Sections.Cautions != "보관 주의" {
		t.Fatalf("input output mutated")
	}
}

func TestMustIncludeAppendedToBlogBodyAndSurvivesLeakRewrite(t *testing.T) {
	in := domain.GenerateInput{
		Platform:        domain.PlatformBlog,
		MustInclude:     []string{"무료 배송", "정품 보증"},
		RequiredContent: []string{"정품  보증", "1년 A/S"},
		Placeholders:    []domain.Placeholder{{Marker: "[사진1]", Note: "박스 개봉 장면"}},
	}
	// The corrective rewrite drops every appended phrase again.
	rw := &stubRewriter{body: "새로 쓴 본문\n[사진1]"}
	e := New(rw, quietLogger())

	got, report, err := e.Run(context.Background(), in, blogOutput("정품 보증 제품입니다. 박스 개봉 장면 [사진1]"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rw.calls != 1 {
		t.Fatalf("rewrite calls = %d", rw.calls)
	}
	required := RequiredPhrases(in)
	if len(required) != 3 {
		t.Fatalf("required = %v", required)
	}
	if missing := MissingPhrases(got.Body(), required); len(missing) != 0 {
		t.Fatalf("body still missing %v:\n%s", missing, got.Body())
	}
	if missing := MissingPhrases(got.AllText(), required); len(missing) != 0 {
		t.Fatalf("output still missing %v", missing)
	}
	if strings.Count(got.Body(), "무료 배송") != 1 {
		t.Fatalf("phrase duplicated:\n%s", got.Body())
	}
	if len(report.AppendedPhrases) == 0 {
		t.Fatalf("report lists no appended phrases")
	}
}

func TestMissingPhrasesNormalizesWhitespaceAndCase(t *testing.T) {
	text := "오늘은   전문가\n상담 필요 합니다. Free Shipping"
	missing := MissingPhrases(text, []string{"전문가 상담 필요", "free shipping", "환불 불가"})
	if len(missing) != 1 || missing[0] != "환불 불가" {
		t.Fatalf("missing = %v", missing)
	}
}

func TestPlaceholdersAppendedAndIsolated(t *testing.T) {
	out := blogOutput("첫 문단 [사진1] 이어지는 문장")
	placeholders := []domain.Placeholder{{Marker: "[사진1]"}, {Marker: "[사진2]"}}

	appended := ApplyPlaceholders(&out, placeholders)
	if len(appended) != 1 || appended[0] != "[사진2]" {
		t.Fatalf("appended = %v", appended)
	}
	lines := strings.Split(out.Body(), "\n")
	found := map[string]bool{}
	for _, line := range lines {
		for _, p := range placeholders {
			if strings.Contains(line, p.Marker) {
				if line != p.Marker {
					t.Fatalf("marker not on its own line: %q", line)
				}
				found[p.Marker] = true
			}
		}
	}
	if len(found) != 2 {
		t.Fatalf("markers found = %v in %q", found, out.Body())
	}

	again := out.Clone()
	ApplyPlaceholders(&again, placeholders)
	if again.Body() != out.Body() {
		t.Fatalf("second pass changed body:\n%q\n%q", out.Body(), again.Body())
	}
}

func TestLeakTriggersSingleRewrite(t *testing.T) {
	in := domain.GenerateInput{
		Platform:     domain.PlatformBlog,
		Placeholders: []domain.Placeholder{{Marker: "[사진1]", Note: "제품 정면 사진"}},
	}
	rw := &stubRewriter{body: "깨끗한 본문\n[사진1]"}
	e := New(rw, quietLogger())

	got, report, err := e.Run(context.Background(), in, blogOutput("여기에 제품 정면 사진 넣기 [사진1]"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rw.calls != 1 || rw.stages[0] != domain.StageLeakRewrite {
		t.Fatalf("rewrite calls = %d stages = %v", rw.calls, rw.stages)
	}
	if report.LeakPersisted {
		t.Fatalf("leak should be cleared")
	}
	if strings.Contains(got.Body(), "제품 정면 사진") {
		t.Fatalf("note still in body: %q", got.Body())
	}
}

func TestPersistingLeakIsAcceptedAfterOneRewrite(t *testing.T) {
	in := domain.GenerateInput{
		Platform:     domain.PlatformBlog,
		Placeholders: []domain.Placeholder{{Marker: "[사진1]", Note: "Front Shot"}},
	}
	rw := &stubRewriter{body: "still has front shot here"}
	e := New(rw, quietLogger())

	got, report, err := e.Run(context.Background(), in, blogOutput("body with FRONT SHOT"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rw.calls != 1 {
		t.Fatalf("rewrite calls = %d, want exactly 1", rw.calls)
	}
	if !report.LeakPersisted {
		t.Fatalf("expected persisted leak in report")
	}
	if !strings.Contains(got.Body(), "[사진1]") {
		t.Fatalf("placeholder pass not re-applied: %q", got.Body())
	}
}

func TestLeakRewriteFailureIsFatal(t *testing.T) {
	in := domain.GenerateInput{
		Platform:     domain.PlatformBlog,
		Placeholders: []domain.Placeholder{{Marker: "[사진1]", Note: "note"}},
	}
	boom := errors.New("model down")
	e := New(&stubRewriter{err: boom}, quietLogger())
	if _, _, err := e.Run(context.Background(), in, blogOutput("note [사진1]")); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestBannedWordsReportedNotRemoved(t *testing.T) {
	in := domain.GenerateInput{Platform: domain.PlatformBlog, BannedWords: []string{"최저가", "guaranteed"}}
	e := New(&stubRewriter{}, quietLogger())
	got, report, err := e.Run(context.Background(), in, blogOutput("최저가 보장 Guaranteed"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.BannedFound) != 2 {
		t.Fatalf("banned = %v", report.BannedFound)
	}
	if !strings.Contains(got.Body(), "최저가") {
		t.Fatalf("banned words must not be stripped")
	}
}
