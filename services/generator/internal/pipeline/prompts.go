package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"postcraft/pkg/domain"
)

const systemPrompt = `You write Korean marketing and review copy for small businesses.
Respond with a single JSON object and nothing else.
Do not mention models, prompts or how the text was produced.
Follow every constraint in the request exactly.`

var schemaByPlatform = map[domain.Platform]string{
	domain.PlatformBlog: `{
  "titleCandidates": ["..."],
  "body": "...",
  "hashtags": ["#..."],
  "cta": "..."
}`,
	domain.PlatformSNS: `{
  "body": "...",
  "hashtags": ["#..."],
  "cta": "..."
}`,
	domain.PlatformStore: `{
  "hook": "...",
  "bullets": ["..."],
  "sections": {"usage": "...", "spec": "...", "faq": "...", "cautions": "..."},
  "cta": "..."
}`,
}

func stylePrompt(corpus string) string {
	return `Describe how the author of the texts below writes so that new text can imitate them.
Do not summarize what they wrote.

Cover speech level, tone, emoji use, sentence length, recurring phrases,
paragraph and line-break habits, and how posts open and close.
Every item must be concrete enough to follow while writing.
speechLevel must be one of casual, polite or formal and reflect the verb endings actually used.

Texts:
` + corpus + `

Answer with exactly these keys:
{
  "speechLevel": "polite|casual|formal",
  "tone": "friendly|neutral|energetic|serious|warm",
  "emojiLevel": "none|low|medium|high",
  "sentenceLength": "short|mixed|long",
  "frequentPhrases": ["..."],
  "structureNotes": ["..."],
  "doList": ["..."],
  "dontList": ["..."]
}`
}

func listOrNone(items []string) string {
	var kept []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return "(none)"
	}
	return strings.Join(kept, " | ")
}

func jsonOrEmpty(v any) string {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

func placeholderLines(in domain.GenerateInput) string {
	if len(in.Placeholders) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, p := range in.Placeholders {
		fmt.Fprintf(&b, "\n  - marker %q", p.Marker)
		if strings.TrimSpace(p.Note) != "" {
			fmt.Fprintf(&b, " (photo shows: %s; never copy this description into the text)", p.Note)
		}
	}
	return b.String()
}

func required(in domain.GenerateInput) []string {
	out := make([]string, 0, len(in.MustInclude)+len(in.RequiredContent))
	out = append(out, in.MustInclude...)
	return append(out, in.RequiredContent...)
}

func draftPrompt(in domain.GenerateInput, profile *domain.StyleProfile) string {
	var b strings.Builder
	b.WriteString("Write a Korean draft for the request below.\n")
	fmt.Fprintf(&b, "- Platform: %s\n", in.Platform)
	fmt.Fprintf(&b, "- Purpose: %s\n", in.Purpose)
	fmt.Fprintf(&b, "- Topic: %s\n", in.Topic)
	fmt.Fprintf(&b, "- Keywords: %s\n", strings.Join(in.Keywords, ", "))
	fmt.Fprintf(&b, "- Length: %s\n", in.Length)
	fmt.Fprintf(&b, "- Must include: %s\n", listOrNone(required(in)))
	fmt.Fprintf(&b, "- Banned words: %s\n", listOrNone(in.BannedWords))
	fmt.Fprintf(&b, "- Photo placeholders: %s\n", placeholderLines(in))
	extra := strings.TrimSpace(in.ExtraPrompt)
	if extra == "" {
		extra = "(none)"
	}
	fmt.Fprintf(&b, "- Extra instructions: %s\n", extra)
	fmt.Fprintf(&b, "- Product info: %s\n", jsonOrEmpty(in.ProductInfo))
	fmt.Fprintf(&b, "- Style profile: %s\n", jsonOrEmpty(profile))
	b.WriteString("\nUse concrete situations and details instead of repeating general claims.\n")
	b.WriteString("Work every keyword in naturally. Put each photo marker on its own line.\n")
	b.WriteString("Answer with JSON in this shape:\n")
	b.WriteString(schemaByPlatform[in.Platform])
	return b.String()
}

func rewritePrompt(in domain.GenerateInput, draftJSON string) string {
	var b strings.Builder
	b.WriteString("Revise the Korean draft below so it reads cleanly and follows the rules.\n")
	fmt.Fprintf(&b, "- Platform: %s\n", in.Platform)
	fmt.Fprintf(&b, "- Must include, word for word: %s\n", listOrNone(required(in)))
	fmt.Fprintf(&b, "- Never use: %s\n", listOrNone(in.BannedWords))
	fmt.Fprintf(&b, "- Photo placeholders: %s\n", placeholderLines(in))
	b.WriteString("\nCut exaggeration and repetition. Keep required phrases where they read naturally.\n")
	if in.Platform == domain.PlatformStore {
		b.WriteString("Keep the sections clearly separated and the bullets short enough to scan.\n")
	}
	b.WriteString("\nDraft:\n")
	b.WriteString(draftJSON)
	b.WriteString("\n\nReturn the revised JSON with the same keys as the draft.")
	return b.String()
}
