package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeOutputChecksRequiredFields(t *testing.T) {
	cases := []struct {
		name     string
		platform Platform
		raw      string
		ok       bool
	}{
		{"blog", PlatformBlog, `{"titleCandidates":["t"],"body":"b"}`, true},
		{"blog without titles", PlatformBlog, `{"body":"b"}`, false},
		{"sns blank body", PlatformSNS, `{"body":"  "}`, false},
		{"store", PlatformStore, `{"hook":"h","sections":{"usage":"u"}}`, true},
		{"store without usage", PlatformStore, `{"hook":"h"}`, false},
		{"not json", PlatformSNS, `body: x`, false},
		{"unknown platform", Platform("fax"), `{}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeOutput(tc.platform, []byte(tc.raw))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidOutput) {
				t.Fatalf("expected ErrInvalidOutput, got %v", err)
			}
		})
	}
}

func TestAppendRequiredTargetsCautionsForStore(t *testing.T) {
	out, err := DecodeOutput(PlatformStore, []byte(`{"hook":"h","sections":{"usage":"use it","cautions":"keep dry"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out.AppendRequired("consult a professional")
	if out.Store.Sections.Cautions != "keep dry\n\nconsult a professional" {
		t.Fatalf("cautions = %q", out.Store.Sections.Cautions)
	}
	if out.Body() != "use it" {
		t.Fatalf("body changed: %q", out.Body())
	}

	sns := Output{Platform: PlatformSNS, SNS: &SNSOutput{Body: "hello\n"}}
	sns.AppendRequired("phrase")
	if sns.Body() != "hello\n\nphrase" {
		t.Fatalf("sns body = %q", sns.Body())
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Output{Platform: PlatformBlog, Blog: &BlogOutput{TitleCandidates: []string{"a"}, Body: "b"}}
	c := orig.Clone()
	c.Blog.TitleCandidates[0] = "changed"
	c.SetBody("other")
	if orig.TitleCandidate() != "a" || orig.Body() != "b" {
		t.Fatalf("clone shares state with original: %+v", orig.Blog)
	}
}

func TestMarshalWritesVariantOnly(t *testing.T) {
	out := Output{Platform: PlatformSNS, SNS: &SNSOutput{Body: "b", Hashtags: []string{"#x"}}}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := RestoreOutput(PlatformSNS, data)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.SNS == nil || restored.SNS.Hashtags[0] != "#x" {
		t.Fatalf("unexpected restore %+v", restored)
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	if _, ok := raw["Platform"]; ok {
		t.Fatalf("platform tag leaked into json: %s", data)
	}
}

func TestIndexOfProjectsTitle(t *testing.T) {
	g := Generation{
		ID:             "g1",
		UID:            "u1",
		Input:          GenerateInput{Platform: PlatformBlog, Keywords: []string{"a", "b", "c"}},
		ReferenceStats: ReferenceStats{TextCount: 1},
		Output:         &Output{Platform: PlatformBlog, Blog: &BlogOutput{TitleCandidates: []string{"First", "Second"}}},
		Status:         StatusSuccess,
	}
	idx := IndexOf(g)
	if idx.TitleCandidate != "First" || !idx.ReferencesProvided || idx.Status != StatusSuccess {
		t.Fatalf("unexpected index %+v", idx)
	}
	g.Input.Keywords[0] = "mutated"
	if idx.Keywords[0] != "a" {
		t.Fatalf("index shares keyword slice with record")
	}
}
