// Package images composes marketing images: it resolves the output frame,
// obtains a text-free background, crops it to the frame and lays the overlay
// text on top.
package images

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smmswarm/internal/agents"
	"smmswarm/internal/ids"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
)

const (
	DefaultMaxVariants = 3
	stageImage         = "image"
)

// BriefWriter turns a request into a creative brief.
// agents.ImageBriefAgent satisfies it.
type BriefWriter interface {
	Write(ctx context.Context, req agents.ImageBriefRequest) (*agents.ImageBrief, error)
}

// Request describes one image generation.
type Request struct {
	Platform string         `json:"platform"`
	UseCase  string         `json:"use_case"`
	Message  string         `json:"message"`
	Brand    map[string]any `json:"brand,omitempty"`
	Overlay  agents.Overlay `json:"overlay"`
	Variants int            `json:"variants"`
	User     string         `json:"-"`
}

// Result is the canonical image payload.
type Result struct {
	Mode     string   `json:"mode"`
	PresetID string   `json:"preset_id"`
	Size     string   `json:"size"`
	ImageIDs []string `json:"image_ids"`
}

// Pipeline runs brief, background, crop, overlay and store for each variant.
type Pipeline struct {
	briefs      BriefWriter
	backgrounds *BackgroundCache
	renderer    *TemplateRenderer
	store       Store
	maxVariants int
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.TracerProvider
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

func WithMaxVariants(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxVariants = n
		}
	}
}

func WithMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTracer(tp *observability.TracerProvider) PipelineOption {
	return func(p *Pipeline) { p.tracer = tp }
}

func WithLogger(l logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logging.OrNop(l) }
}

func NewPipeline(briefs BriefWriter, backgrounds *BackgroundCache, store Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		briefs:      briefs,
		backgrounds: backgrounds,
		renderer:    NewTemplateRenderer(),
		store:       store,
		maxVariants: DefaultMaxVariants,
		logger:      logging.NewComponentLogger("image-pipeline"),
		tracer:      observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClampVariants bounds a requested variant count to [1, limit].
func ClampVariants(n, limit int) int {
	if n < 1 {
		return 1
	}
	if n > limit {
		return limit
	}
	return n
}

// Generate produces and stores the requested image variants.
func (p *Pipeline) Generate(ctx context.Context, req Request) (result *Result, err error) {
	started := time.Now()
	preset := ResolvePreset(req.Platform, req.UseCase)
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanImageCompose, attribute.String(observability.AttrPreset, preset.ID))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.SetAttributes(observability.ErrorAttrs(err)...)
			p.metrics.IncStageFailure(stageImage, "error")
		}
		p.metrics.ObserveStage(stageImage, status, time.Since(started))
		span.End()
	}()

	logger := logging.FromContext(ctx, p.logger)
	user := req.User
	if user == "" {
		user = ids.FromContext(ctx).UserID
	}
	user = SanitizeOwner(user)

	brief, err := p.briefs.Write(ctx, agents.ImageBriefRequest{
		Platform: req.Platform,
		UseCase:  req.UseCase,
		Message:  req.Message,
		Brand:    req.Brand,
		Overlay:  req.Overlay,
		Preset:   preset.Hint(),
	})
	if err != nil {
		return nil, fmt.Errorf("image brief: %w", err)
	}
	if strings.TrimSpace(strings.TrimPrefix(brief.BackgroundPrompt, "NO TEXT.")) == "" {
		brief.BackgroundPrompt = req.Message
	}
	if brief.Overlay.Empty() {
		brief.Overlay = req.Overlay
	}
	brief.Enforce()
	span.SetAttributes(attribute.String(observability.AttrImageMode, brief.Mode))

	style := "neutral"
	if len(brief.Palette) > 0 {
		style = strings.Join(brief.Palette, ",")
	}
	prompt := brief.BackgroundPrompt
	if brief.NegativePrompt != "" {
		prompt += "\nNegative prompt: " + brief.NegativePrompt
	}

	variants := ClampVariants(req.Variants, p.maxVariants)
	imageIDs := make([]string, 0, variants)
	for i := 0; i < variants; i++ {
		data, err := p.compose(ctx, brief, preset, prompt, style, user)
		if err != nil {
			return nil, err
		}
		id, err := p.store.Save(ctx, user, data)
		if err != nil {
			return nil, fmt.Errorf("store image: %w", err)
		}
		imageIDs = append(imageIDs, id)
	}
	p.metrics.AddImageVariants(brief.Mode, len(imageIDs))
	logger.Info("Generated %d image(s) mode=%s preset=%s", len(imageIDs), brief.Mode, preset.ID)

	return &Result{
		Mode:     brief.Mode,
		PresetID: preset.ID,
		Size:     preset.Size(),
		ImageIDs: imageIDs,
	}, nil
}

func (p *Pipeline) compose(ctx context.Context, brief *agents.ImageBrief, preset Preset, prompt, style, user string) ([]byte, error) {
	switch brief.Mode {
	case agents.ModeTemplate:
		return p.templated(ctx, brief, preset, prompt, style, user)
	case agents.ModeHybrid:
		if brief.Confidence == agents.ConfidenceLow {
			return p.templated(ctx, brief, preset, prompt, style, user)
		}
		hybrid := prompt + "\nText overlay: " + overlayText(brief.Overlay)
		img, err := p.background(ctx, hybrid, preset, style, user)
		if err != nil {
			return nil, err
		}
		return EncodePNG(img)
	default:
		img, err := p.background(ctx, prompt, preset, style, user)
		if err != nil {
			return nil, err
		}
		return EncodePNG(img)
	}
}

func (p *Pipeline) templated(ctx context.Context, brief *agents.ImageBrief, preset Preset, prompt, style, user string) ([]byte, error) {
	bg, err := p.background(ctx, prompt, preset, style, user)
	if err != nil {
		return nil, err
	}
	img, err := p.renderer.Render(bg, brief.Overlay, brief.Layout, brief.Palette)
	if err != nil {
		return nil, err
	}
	return EncodePNG(img)
}

func (p *Pipeline) background(ctx context.Context, prompt string, preset Preset, style, user string) (*image.NRGBA, error) {
	data, err := p.backgrounds.Get(ctx, prompt, preset.GenerationSize, style, user)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return CoverResize(img, preset.Width, preset.Height), nil
}

func overlayText(o agents.Overlay) string {
	var parts []string
	for _, s := range []string{o.Headline, o.Subtitle, o.CTA} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " / ")
}

// Open returns the stored PNG for id.
func (p *Pipeline) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return p.store.Open(ctx, id)
}
