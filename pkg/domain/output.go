package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidOutput = errors.New("invalid generation output")

type BlogOutput struct {
	TitleCandidates []string `json:"titleCandidates"`
	Body            string   `json:"body"`
	Hashtags        []string `json:"hashtags"`
	CTA             string   `json:"cta"`
}

type SNSOutput struct {
	Body     string   `json:"body"`
	Hashtags []string `json:"hashtags"`
	CTA      string   `json:"cta"`
}

type StoreSections struct {
	Usage    string `json:"usage"`
	Spec     string `json:"spec"`
	FAQ      string `json:"faq"`
	Cautions string `json:"cautions"`
}

type StoreOutput struct {
	Hook     string        `json:"hook"`
	Bullets  []string      `json:"bullets"`
	Sections StoreSections `json:"sections"`
	CTA      string        `json:"cta"`
}

// Output is a platform-tagged generation result. Exactly one variant is set.
type Output struct {
	Platform Platform
	Blog     *BlogOutput
	SNS      *SNSOutput
	Store    *StoreOutput
}

// DecodeOutput parses raw model JSON into the variant for platform and
// checks the fields every variant must carry.
func DecodeOutput(platform Platform, raw []byte) (Output, error) {
	out := Output{Platform: platform}
	switch platform {
	case PlatformBlog:
		var v BlogOutput
		if err := json.Unmarshal(raw, &v); err != nil {
			return Output{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		if strings.TrimSpace(v.Body) == "" {
			return Output{}, fmt.Errorf("%w: blog body missing", ErrInvalidOutput)
		}
		if len(v.TitleCandidates) == 0 {
			return Output{}, fmt.Errorf("%w: blog titleCandidates missing", ErrInvalidOutput)
		}
		out.Blog = &v
	case PlatformSNS:
		var v SNSOutput
		if err := json.Unmarshal(raw, &v); err != nil {
			return Output{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		if strings.TrimSpace(v.Body) == "" {
			return Output{}, fmt.Errorf("%w: sns body missing", ErrInvalidOutput)
		}
		out.SNS = &v
	case PlatformStore:
		var v StoreOutput
		if err := json.Unmarshal(raw, &v); err != nil {
			return Output{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		if strings.TrimSpace(v.Hook) == "" {
			return Output{}, fmt.Errorf("%w: store hook missing", ErrInvalidOutput)
		}
		if strings.TrimSpace(v.Sections.Usage) == "" {
			return Output{}, fmt.Errorf("%w: store sections.usage missing", ErrInvalidOutput)
		}
		out.Store = &v
	default:
		return Output{}, fmt.Errorf("%w: unknown platform %q", ErrInvalidOutput, platform)
	}
	return out, nil
}

// RestoreOutput decodes previously persisted output without re-checking
// required fields.
func RestoreOutput(platform Platform, raw []byte) (Output, error) {
	out := Output{Platform: platform}
	var err error
	switch platform {
	case PlatformBlog:
		out.Blog = &BlogOutput{}
		err = json.Unmarshal(raw, out.Blog)
	case PlatformSNS:
		out.SNS = &SNSOutput{}
		err = json.Unmarshal(raw, out.SNS)
	case PlatformStore:
		out.Store = &StoreOutput{}
		err = json.Unmarshal(raw, out.Store)
	default:
		return Output{}, fmt.Errorf("%w: unknown platform %q", ErrInvalidOutput, platform)
	}
	if err != nil {
		return Output{}, err
	}
	return out, nil
}

func (o Output) variant() any {
	switch {
	case o.Blog != nil:
		return o.Blog
	case o.SNS != nil:
		return o.SNS
	case o.Store != nil:
		return o.Store
	}
	return nil
}

func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.variant())
}

// Body returns the main prose field. Storefront copy keeps its prose in
// sections.usage.
func (o Output) Body() string {
	switch {
	case o.Blog != nil:
		return o.Blog.Body
	case o.SNS != nil:
		return o.SNS.Body
	case o.Store != nil:
		return o.Store.Sections.Usage
	}
	return ""
}

func (o *Output) SetBody(body string) {
	switch {
	case o.Blog != nil:
		o.Blog.Body = body
	case o.SNS != nil:
		o.SNS.Body = body
	case o.Store != nil:
		o.Store.Sections.Usage = body
	}
}

// AppendRequired appends text to the field that receives missing
// must-include phrases: sections.cautions for storefront, body otherwise.
func (o *Output) AppendRequired(text string) {
	if o.Store != nil {
		o.Store.Sections.Cautions = appendBlock(o.Store.Sections.Cautions, text)
		return
	}
	o.SetBody(appendBlock(o.Body(), text))
}

// AllText joins every user-visible text field.
func (o Output) AllText() string {
	var parts []string
	switch {
	case o.Blog != nil:
		parts = append(parts, o.Blog.TitleCandidates...)
		parts = append(parts, o.Blog.Body, o.Blog.CTA)
		parts = append(parts, o.Blog.Hashtags...)
	case o.SNS != nil:
		parts = append(parts, o.SNS.Body, o.SNS.CTA)
		parts = append(parts, o.SNS.Hashtags...)
	case o.Store != nil:
		parts = append(parts, o.Store.Hook)
		parts = append(parts, o.Store.Bullets...)
		s := o.Store.Sections
		parts = append(parts, s.Usage, s.Spec, s.FAQ, s.Cautions, o.Store.CTA)
	}
	return strings.Join(parts, "\n")
}

// TitleCandidate returns the first blog title, if any.
func (o Output) TitleCandidate() string {
	if o.Blog == nil || len(o.Blog.TitleCandidates) == 0 {
		return ""
	}
	return o.Blog.TitleCandidates[0]
}

// Clone returns a deep copy.
func (o Output) Clone() Output {
	c := Output{Platform: o.Platform}
	if o.Blog != nil {
		v := *o.Blog
		v.TitleCandidates = append([]string(nil), o.Blog.TitleCandidates...)
		v.Hashtags = append([]string(nil), o.Blog.Hashtags...)
		c.Blog = &v
	}
	if o.SNS != nil {
		v := *o.SNS
		v.Hashtags = append([]string(nil), o.SNS.Hashtags...)
		c.SNS = &v
	}
	if o.Store != nil {
		v := *o.Store
		v.Bullets = append([]string(nil), o.Store.Bullets...)
		c.Store = &v
	}
	return c
}

func appendBlock(base, text string) string {
	base = strings.TrimRight(base, " \t\n")
	if base == "" {
		return text
	}
	return base + "\n\n" + text
}
