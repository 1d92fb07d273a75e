package images

import (
	"fmt"
	"strconv"
	"strings"

	"smmswarm/internal/agents"
)

// Preset is a named output frame.
type Preset struct {
	ID     string
	Width  int
	Height int
	Aspect string
	// GenerationSize is the nearest size the image backend renders natively.
	GenerationSize string
}

// Size formats the target frame as "WxH".
func (p Preset) Size() string { return fmt.Sprintf("%dx%d", p.Width, p.Height) }

// Hint is the view of the preset given to the brief writer.
func (p Preset) Hint() agents.PresetHint {
	return agents.PresetHint{ID: p.ID, Width: p.Width, Height: p.Height, Aspect: p.Aspect}
}

// Preset ids.
const (
	PresetIGPostSquare = "ig_post_square"
	PresetIGStory      = "ig_story"
	PresetTGBanner     = "tg_banner"
	PresetVKPost       = "vk_post"
	PresetWebHero      = "web_hero"
	PresetWebBlock     = "web_block"
)

var presets = map[string]Preset{
	PresetIGPostSquare: {ID: PresetIGPostSquare, Width: 1080, Height: 1080, Aspect: "1:1"},
	PresetIGStory:      {ID: PresetIGStory, Width: 1080, Height: 1920, Aspect: "9:16"},
	PresetTGBanner:     {ID: PresetTGBanner, Width: 1280, Height: 720, Aspect: "16:9"},
	PresetVKPost:       {ID: PresetVKPost, Width: 1080, Height: 1080, Aspect: "1:1"},
	PresetWebHero:      {ID: PresetWebHero, Width: 1920, Height: 1080, Aspect: "16:9"},
	PresetWebBlock:     {ID: PresetWebBlock, Width: 1200, Height: 628, Aspect: "1.91:1"},
}

// Native backend sizes.
const (
	SizeSquare    = "1024x1024"
	SizeLandscape = "1536x1024"
	SizePortrait  = "1024x1536"
)

var platformAliases = map[string]string{
	"instagram": "instagram",
	"ig":        "instagram",
	"insta":     "instagram",
	"telegram":  "telegram",
	"tg":        "telegram",
	"vk":        "vk",
	"vkontakte": "vk",
	"web":       "web",
	"site":      "web",
}

func normalizePlatform(platform string) string {
	p := strings.ToLower(strings.TrimSpace(platform))
	if alias, ok := platformAliases[p]; ok {
		return alias
	}
	return p
}

// ResolvePreset maps a platform and use case to an output frame. The use
// case decides first; the platform only picks among defaults.
func ResolvePreset(platform, useCase string) Preset {
	p := normalizePlatform(platform)
	id := PresetIGPostSquare
	switch strings.ToLower(strings.TrimSpace(useCase)) {
	case "story":
		id = PresetIGStory
	case "banner":
		id = PresetTGBanner
	case "hero":
		id = PresetWebHero
	case "block":
		id = PresetWebBlock
	case "post":
		if p == "vk" {
			id = PresetVKPost
		}
	default:
		switch p {
		case "telegram":
			id = PresetTGBanner
		case "web":
			id = PresetWebBlock
		case "vk":
			id = PresetVKPost
		}
	}
	preset := presets[id]
	preset.GenerationSize = GenerationSize(preset.Width, preset.Height)
	return preset
}

// GenerationSize classifies a frame as landscape, portrait or square.
func GenerationSize(width, height int) string {
	if height < 1 {
		height = 1
	}
	r := float64(width) / float64(height)
	switch {
	case r > 1.15:
		return SizeLandscape
	case r < 0.87:
		return SizePortrait
	default:
		return SizeSquare
	}
}

// ParseSize reads "WxH".
func ParseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return width, height, nil
}
