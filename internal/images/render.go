package images

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"smmswarm/internal/agents"
)

var (
	defaultTextColor = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	shadowColor      = color.NRGBA{A: 0xFF}
	backingColor     = color.NRGBA{A: 160}
)

const shadowOffset = 2

// TemplateRenderer draws overlay text onto a background.
type TemplateRenderer struct {
	once    sync.Once
	regular *opentype.Font
	bold    *opentype.Font
	err     error
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

func (r *TemplateRenderer) fonts() error {
	r.once.Do(func() {
		if r.regular, r.err = opentype.Parse(goregular.TTF); r.err != nil {
			return
		}
		r.bold, r.err = opentype.Parse(gobold.TTF)
	})
	return r.err
}

// TextBox returns the area text is laid out in for layout. For the bottom
// layout the box also gets a translucent backing.
func TextBox(bounds image.Rectangle, layout string) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	margin := int(float64(min(w, h)) * 0.08)
	safe := image.Rect(bounds.Min.X+margin, bounds.Min.Y+margin, bounds.Max.X-margin, bounds.Max.Y-margin)
	switch layout {
	case agents.LayoutLeft:
		return image.Rect(safe.Min.X, safe.Min.Y, bounds.Min.X+int(float64(w)*0.55), safe.Max.Y)
	case agents.LayoutBottom:
		return image.Rect(safe.Min.X, bounds.Min.Y+int(float64(h)*0.65), safe.Max.X, safe.Max.Y)
	default:
		return safe
	}
}

type textLine struct {
	text string
	face font.Face
	size int
}

// Render draws overlay onto a copy of background and returns it.
func (r *TemplateRenderer) Render(background image.Image, overlay agents.Overlay, layout string, palette []string) (*image.NRGBA, error) {
	if err := r.fonts(); err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	bounds := background.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), background, bounds.Min, draw.Src)

	box := TextBox(dst.Bounds(), layout)
	if layout == agents.LayoutBottom {
		draw.Draw(dst, box, image.NewUniform(backingColor), image.Point{}, draw.Over)
	}

	boxH := box.Dy()
	specs := []struct {
		text  string
		ratio float64
		floor int
		bold  bool
	}{
		{overlay.Headline, 0.12, 28, true},
		{overlay.Subtitle, 0.07, 20, false},
		{overlay.CTA, 0.06, 18, true},
	}

	var lines []textLine
	defer func() {
		for _, l := range lines {
			l.face.Close()
		}
	}()
	for _, s := range specs {
		text := strings.TrimSpace(s.text)
		if text == "" {
			continue
		}
		size := max(int(float64(boxH)*s.ratio), s.floor)
		f := r.regular
		if s.bold {
			f = r.bold
		}
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			return nil, fmt.Errorf("create font face: %w", err)
		}
		lines = append(lines, textLine{text: text, face: face, size: size})
	}

	fg := ParseHexColor(firstColor(palette), defaultTextColor)
	spacing := int(float64(boxH) * 0.04)
	y := box.Min.Y
	for _, l := range lines {
		width := font.MeasureString(l.face, l.text).Ceil()
		x := box.Min.X + max((box.Dx()-width)/2, 0)
		baseline := y + l.face.Metrics().Ascent.Ceil()
		drawString(dst, l.face, shadowColor, x+shadowOffset, baseline+shadowOffset, l.text)
		drawString(dst, l.face, fg, x, baseline, l.text)
		y += l.size + spacing
	}
	return dst, nil
}

func drawString(dst draw.Image, face font.Face, c color.Color, x, y int, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func firstColor(palette []string) string {
	if len(palette) == 0 {
		return ""
	}
	return palette[0]
}

// ParseHexColor reads "#RRGGBB", returning fallback for anything else.
func ParseHexColor(s string, fallback color.NRGBA) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}
}
