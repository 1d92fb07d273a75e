package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"smmswarm/internal/jsonx"
	"smmswarm/internal/structured"
)

// Image composition modes.
const (
	ModeSimple   = "simple"
	ModeTemplate = "template"
	ModeHybrid   = "hybrid"
)

// Overlay layout zones.
const (
	LayoutLeft   = "left"
	LayoutCenter = "center"
	LayoutBottom = "bottom"
)

// Confidence tiers reported by agents.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// DefaultNegativePrompt lists what a background must never contain.
const DefaultNegativePrompt = "text, words, letters, watermark, logo artifacts, low quality, blurry"

const noTextPrefix = "NO TEXT. "

const maxPalette = 5

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Overlay is the text rendered on top of a background.
type Overlay struct {
	Headline string `json:"headline"`
	Subtitle string `json:"subtitle"`
	CTA      string `json:"cta"`
}

// Empty reports whether every overlay field is blank.
func (o Overlay) Empty() bool {
	return o.Headline == "" && o.Subtitle == "" && o.CTA == ""
}

// ImageBrief specifies how to generate a background and lay text over it.
type ImageBrief struct {
	Mode             string   `json:"mode"`
	PresetID         string   `json:"preset_id"`
	Size             string   `json:"size"`
	Aspect           string   `json:"aspect"`
	BackgroundPrompt string   `json:"background_prompt"`
	NegativePrompt   string   `json:"negative_prompt"`
	Overlay          Overlay  `json:"overlay"`
	Palette          []string `json:"palette"`
	Layout           string   `json:"layout"`
	Notes            []string `json:"notes"`
	Confidence       string   `json:"confidence"`
}

// PresetHint is the already resolved output frame the brief is written for.
type PresetHint struct {
	ID     string
	Width  int
	Height int
	Aspect string
}

// Size formats the hint as "WxH".
func (p PresetHint) Size() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// ImageBriefRequest is the input of ImageBriefAgent.Write.
type ImageBriefRequest struct {
	Platform string
	UseCase  string
	Message  string
	Brand    map[string]any
	Overlay  Overlay
	Preset   PresetHint
	QCIssues []string
}

var (
	textWishWords = []string{"text", "caption", "headline", "lettering", "title", "banner", "cover", "hero"}
	bannerWords   = []string{"banner", "cover", "hero"}
)

// SuggestMode picks the composition mode the request most likely needs:
// simple by default, template for banners or given overlay text, hybrid when
// the user also asks for text in the picture.
func SuggestMode(req ImageBriefRequest) string {
	message := strings.ToLower(req.Message)
	useCase := strings.ToLower(req.UseCase)
	hasOverlay := !req.Overlay.Empty()

	wantsText := hasOverlay || containsAny(message, textWishWords)
	isBanner := containsAny(useCase, bannerWords)

	mode := ModeSimple
	if isBanner || hasOverlay {
		mode = ModeTemplate
	}
	if wantsText && (isBanner || hasOverlay) {
		mode = ModeHybrid
	}
	return mode
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

const imageBriefSystem = `You are an art director producing visual assets for social media.
You write the brief for generating a background image and, when needed, a template for the text laid over it.

Hard rules:
- background_prompt: NO TEXT in the image (no lettering, no words, no typography).
- All words go into overlay only.
- If the user did not ask for text and the overlay is empty, prefer mode=simple.
- For a banner, cover or hero, or when overlay text is given, use mode=template.
- mode=hybrid only when the user explicitly wants text in the picture; the text is still an overlay.
- Avoid cliches like "modern, sleek" without detail. Give concrete visual cues.`

const imageBriefSchema = `{
  "mode": "simple|template|hybrid",
  "preset_id": "...", "size": "WxH", "aspect": "W:H",
  "background_prompt": "NO TEXT, concrete scene, composition, style, negative space for the overlay",
  "negative_prompt": "text, words, letters, watermark, logo artifacts, low quality, blurry",
  "overlay": {"headline": "...", "subtitle": "...", "cta": "..."},
  "palette": ["#RRGGBB", "#RRGGBB", "#RRGGBB"],
  "layout": "left|center|bottom",
  "notes": ["short layout and contrast hints"],
  "confidence": "low|medium|high"
}`

// ImageBriefAgent writes the creative brief for the image pipeline.
type ImageBriefAgent struct {
	Base
}

func NewImageBriefAgent(gateway Invoker, model string) *ImageBriefAgent {
	return &ImageBriefAgent{Base: NewBase(gateway, imageBriefSystem, model, "image_brief")}
}

// Write asks the model for a brief and enforces its invariants on the reply.
func (a *ImageBriefAgent) Write(ctx context.Context, req ImageBriefRequest) (*ImageBrief, error) {
	suggested := SuggestMode(req)
	brand, _ := jsonx.Pretty(req.Brand)
	overlay, _ := jsonx.Pretty(req.Overlay)
	qc := QCBlock(Brief{"qc_issues": req.QCIssues})

	instruction := fmt.Sprintf(`Platform: %s
Use case: %s
Message: %s

Brand (if any):
%s

Overlay text (if any):
%s

Preset (already chosen): id %s, %s, aspect %s
Suggested mode: %s

Selection rules:
- Empty overlay and no banner: mode=simple, overlay may be empty.
- Banner, cover or hero, or overlay text given: mode=template, fill the overlay (short is fine).
- The user explicitly wants text in the picture: mode=hybrid, the background_prompt still has NO TEXT.

Quality rules:
- background_prompt describes the subject, key objects, style, light and composition, and always says "NO TEXT" and "negative space for overlay".
- palette: 3-5 colours that work together and give contrast for the text.
- layout: where the text block goes (left, center or bottom), given the negative space.
%s`, req.Platform, req.UseCase, req.Message, brand, overlay, req.Preset.ID, req.Preset.Size(), req.Preset.Aspect, suggested, qc)

	data, err := a.JSON(ctx, strings.TrimSpace(instruction), imageBriefSchema, RunOptions{})
	if err != nil {
		return nil, err
	}
	brief := NormalizeImageBrief(data, req.Preset, suggested)
	return &brief, nil
}

// NormalizeImageBrief converts a model reply into an ImageBrief, filling
// defaults from preset. The background prompt always carries a "no text"
// instruction and a simple brief never carries overlay text.
func NormalizeImageBrief(data map[string]any, preset PresetHint, suggested string) ImageBrief {
	b := ImageBrief{
		Mode:             strings.ToLower(structured.String(data, "mode")),
		PresetID:         firstNonEmpty(structured.String(data, "preset_id"), preset.ID),
		Size:             firstNonEmpty(structured.String(data, "size"), preset.Size()),
		Aspect:           firstNonEmpty(structured.String(data, "aspect"), preset.Aspect),
		BackgroundPrompt: structured.String(data, "background_prompt"),
		NegativePrompt:   firstNonEmpty(structured.String(data, "negative_prompt"), DefaultNegativePrompt),
		Layout:           strings.ToLower(structured.String(data, "layout")),
		Notes:            structured.Strings(data, "notes"),
		Confidence:       strings.ToLower(structured.String(data, "confidence")),
	}
	switch b.Mode {
	case ModeSimple, ModeTemplate, ModeHybrid:
	default:
		b.Mode = firstNonEmpty(suggested, ModeSimple)
	}
	switch b.Layout {
	case LayoutLeft, LayoutCenter, LayoutBottom:
	default:
		b.Layout = LayoutCenter
	}
	switch b.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		b.Confidence = ConfidenceMedium
	}

	for _, c := range structured.Strings(data, "palette") {
		if hexColor.MatchString(c) && len(b.Palette) < maxPalette {
			b.Palette = append(b.Palette, strings.ToUpper(c))
		}
	}
	if b.Palette == nil {
		b.Palette = []string{}
	}
	if b.Notes == nil {
		b.Notes = []string{}
	}

	if ov := structured.Map(data, "overlay"); ov != nil {
		b.Overlay = Overlay{
			Headline: structured.String(ov, "headline"),
			Subtitle: structured.String(ov, "subtitle"),
			CTA:      structured.String(ov, "cta"),
		}
	}
	b.Enforce()
	return b
}

// Enforce applies the two rules every brief must satisfy: the background
// prompt forbids text and a simple brief has no overlay.
func (b *ImageBrief) Enforce() {
	if !strings.Contains(strings.ToLower(b.BackgroundPrompt), "no text") {
		b.BackgroundPrompt = strings.TrimSpace(noTextPrefix + b.BackgroundPrompt)
	}
	if b.Mode == ModeSimple {
		b.Overlay = Overlay{}
	}
}
