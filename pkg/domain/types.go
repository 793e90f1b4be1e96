package domain

import "time"

type Platform string

const (
	PlatformBlog  Platform = "blog"
	PlatformSNS   Platform = "sns"
	PlatformStore Platform = "store"
)

type GenerationStatus string

const (
	StatusPending GenerationStatus = "pending"
	StatusSuccess GenerationStatus = "success"
	StatusFailed  GenerationStatus = "failed"
)

// Stage tags where a generation job stopped.
type Stage string

const (
	StageReserve     Stage = "reserve"
	StageReferences  Stage = "references"
	StageStyle       Stage = "style"
	StageDraft       Stage = "draft"
	StageRewrite     Stage = "rewrite"
	StageLeakRewrite Stage = "leak_rewrite"
	StagePersist     Stage = "persist"
	StageInterrupted Stage = "interrupted"
	StageInternal    Stage = "internal"
)

const DefaultPlan = "free"

type Account struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email,omitempty"`
	Credits       int       `json:"credits"`
	FreeTrialUsed bool      `json:"freeTrialUsed"`
	Plan          string    `json:"plan"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreditReservation is the outcome of one ledger reservation.
type CreditReservation struct {
	CreditsRemaining      int  `json:"creditsRemaining"`
	UsedFreeTrialThisCall bool `json:"usedFreeTrialThisCall"`
}

type ProductInfo struct {
	ProductName    string   `json:"productName,omitempty" validate:"max=200"`
	PriceRange     string   `json:"priceRange,omitempty" validate:"max=100"`
	Features       []string `json:"features,omitempty" validate:"omitempty,min=3,max=10"`
	TargetCustomer string   `json:"targetCustomer,omitempty" validate:"max=200"`
	Cautions       []string `json:"cautions,omitempty"`
	Components     []string `json:"components,omitempty"`
}

// Placeholder is a photo slot marker the output must carry verbatim.
// Note is authoring guidance and must never reach public output.
type Placeholder struct {
	Marker string `json:"marker" validate:"required,max=80"`
	Note   string `json:"note,omitempty" validate:"max=300"`
}

type GenerateInput struct {
	Platform          Platform      `json:"platform" validate:"required,oneof=blog sns store"`
	Purpose           string        `json:"purpose" validate:"required,oneof=promo review ad info etc"`
	Topic             string        `json:"topic" validate:"required,min=1,max=120"`
	Keywords          []string      `json:"keywords" validate:"required,min=3,max=10"`
	Length            string        `json:"length" validate:"required,oneof=normal long xlong"`
	References        []string      `json:"references,omitempty"`
	ReferenceURLs     []string      `json:"referenceUrls,omitempty" validate:"max=5,dive,http_url"`
	UseReferenceStyle *bool         `json:"useReferenceStyle,omitempty"`
	ExtraPrompt       string        `json:"extraPrompt,omitempty" validate:"max=600"`
	RequiredContent   []string      `json:"requiredContent,omitempty"`
	MustInclude       []string      `json:"mustInclude,omitempty"`
	BannedWords       []string      `json:"bannedWords,omitempty"`
	Placeholders      []Placeholder `json:"photoPlaceholders,omitempty" validate:"max=10,dive"`
	ProductInfo       *ProductInfo  `json:"productInfo,omitempty"`
	Variants          int           `json:"variants,omitempty" validate:"omitempty,min=1,max=3"`
}

// StyleWanted reports whether the caller allows reference style analysis.
func (in GenerateInput) StyleWanted() bool {
	return in.UseReferenceStyle == nil || *in.UseReferenceStyle
}

type ReferenceStats struct {
	URLCount     int `json:"urlCount"`
	FetchedCount int `json:"fetchedCount"`
	TextCount    int `json:"textCount"`
}

type StyleProfile struct {
	SpeechLevel     string   `json:"speechLevel"`
	Tone            string   `json:"tone"`
	EmojiLevel      string   `json:"emojiLevel"`
	SentenceLength  string   `json:"sentenceLength"`
	FrequentPhrases []string `json:"frequentPhrases"`
	StructureNotes  []string `json:"structureNotes"`
	DoList          []string `json:"doList"`
	DontList        []string `json:"dontList"`
}

// Generation is the full record of one generation job.
type Generation struct {
	ID             string           `json:"id"`
	UID            string           `json:"uid"`
	Input          GenerateInput    `json:"inputSnapshot"`
	ReferenceStats ReferenceStats   `json:"referenceStats"`
	StyleProfile   *StyleProfile    `json:"styleProfile"`
	Output         *Output          `json:"output"`
	Status         GenerationStatus `json:"status"`
	Error          string           `json:"error,omitempty"`
	Stage          Stage            `json:"stage,omitempty"`
	UsedFreeTrial  bool             `json:"-"`
	Refunded       bool             `json:"refunded,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// GenerationIndex is the abbreviated per-user projection of a Generation.
type GenerationIndex struct {
	ID                 string           `json:"id"`
	UID                string           `json:"-"`
	Platform           Platform         `json:"platform"`
	Purpose            string           `json:"purpose"`
	Topic              string           `json:"topic"`
	Keywords           []string         `json:"keywords"`
	Length             string           `json:"length"`
	ExtraPrompt        string           `json:"extraPrompt,omitempty"`
	ReferencesProvided bool             `json:"referencesProvided"`
	TitleCandidate     string           `json:"titleCandidate,omitempty"`
	Status             GenerationStatus `json:"status"`
	Error              string           `json:"error,omitempty"`
	Stage              Stage            `json:"stage,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// IndexOf derives the per-user projection from a full record.
func IndexOf(g Generation) GenerationIndex {
	idx := GenerationIndex{
		ID:                 g.ID,
		UID:                g.UID,
		Platform:           g.Input.Platform,
		Purpose:            g.Input.Purpose,
		Topic:              g.Input.Topic,
		Keywords:           append([]string(nil), g.Input.Keywords...),
		Length:             g.Input.Length,
		ExtraPrompt:        g.Input.ExtraPrompt,
		ReferencesProvided: g.ReferenceStats.TextCount > 0,
		Status:             g.Status,
		Error:              g.Error,
		Stage:              g.Stage,
		CreatedAt:          g.CreatedAt,
	}
	if g.Output != nil {
		idx.TitleCandidate = g.Output.TitleCandidate()
	}
	return idx
}
