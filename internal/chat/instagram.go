package chat

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	maxInsightsRaw  = 6000
	maxTopContent   = 10
	maxTopLineRunes = 400
)

var (
	kvLine       = regexp.MustCompile(`^\s*([\p{L}0-9_ ./-]+?)\s*:\s*(.+?)\s*$`)
	numberRun    = regexp.MustCompile(`\d[\d\s.,]*`)
	handleRef    = regexp.MustCompile(`@([a-zA-Z0-9_.]{3,30})`)
	numberedLine = regexp.MustCompile(`^\d+[).]`)
)

// InstagramInsights are account statistics pasted by the user, usually in
// the IG_INSIGHTS template of "key: value" lines.
type InstagramInsights struct {
	Handle          string   `json:"handle,omitempty"`
	Goal            string   `json:"goal,omitempty"`
	Niche           string   `json:"niche,omitempty"`
	Geo             string   `json:"geo,omitempty"`
	Language        string   `json:"language,omitempty"`
	Followers       *float64 `json:"followers,omitempty"`
	AvgReachPost    *float64 `json:"avg_reach_post,omitempty"`
	AvgReachReels   *float64 `json:"avg_reach_reels,omitempty"`
	AvgSavesPost    *float64 `json:"avg_saves_post,omitempty"`
	AvgCommentsPost *float64 `json:"avg_comments_post,omitempty"`
	AudienceGender  string   `json:"audience_gender,omitempty"`
	AudienceAgeTop  string   `json:"audience_age_top,omitempty"`
	AudienceGeoTop  string   `json:"audience_geo_top,omitempty"`
	TopContent      []string `json:"top_content,omitempty"`
	FunnelLink      string   `json:"funnel_link,omitempty"`
	AvgCheck        *float64 `json:"avg_check,omitempty"`
	Raw             string   `json:"raw"`
}

type insightField struct {
	keys []string
	set  func(in *InstagramInsights, value string)
}

func numberField(dst func(in *InstagramInsights) **float64) func(*InstagramInsights, string) {
	return func(in *InstagramInsights, v string) { *dst(in) = parseNumber(v) }
}

var insightFields = []insightField{
	{[]string{"goal", "цель"}, func(in *InstagramInsights, v string) { in.Goal = v }},
	{[]string{"niche", "product", "niche/product", "ниша", "продукт", "ниша/продукт"}, func(in *InstagramInsights, v string) { in.Niche = v }},
	{[]string{"geo", "гео"}, func(in *InstagramInsights, v string) { in.Geo = v }},
	{[]string{"language", "язык"}, func(in *InstagramInsights, v string) { in.Language = v }},
	{[]string{"followers", "подписчики"}, numberField(func(in *InstagramInsights) **float64 { return &in.Followers })},
	{[]string{"avg reach post", "avg_reach_post", "ср.охват поста", "средний охват поста"}, numberField(func(in *InstagramInsights) **float64 { return &in.AvgReachPost })},
	{[]string{"avg reach reels", "avg_reach_reels", "ср.охват рилс", "средний охват рилс"}, numberField(func(in *InstagramInsights) **float64 { return &in.AvgReachReels })},
	{[]string{"avg saves post", "avg_saves_post", "ср.сохранения поста", "средние сохранения поста"}, numberField(func(in *InstagramInsights) **float64 { return &in.AvgSavesPost })},
	{[]string{"avg comments post", "avg_comments_post", "ср.комменты поста", "средние комментарии поста"}, numberField(func(in *InstagramInsights) **float64 { return &in.AvgCommentsPost })},
	{[]string{"gender", "audience", "аудитория", "пол"}, func(in *InstagramInsights, v string) { in.AudienceGender = v }},
	{[]string{"age", "возраст", "возраст топ-3"}, func(in *InstagramInsights, v string) { in.AudienceAgeTop = v }},
	{[]string{"audience geo", "geo_top", "топ-гео", "гео аудитории"}, func(in *InstagramInsights, v string) { in.AudienceGeoTop = v }},
	{[]string{"funnel", "link", "ссылка", "воронка", "ссылки/воронка"}, func(in *InstagramInsights, v string) { in.FunnelLink = v }},
	{[]string{"avg check", "avg_check", "средний чек"}, numberField(func(in *InstagramInsights) **float64 { return &in.AvgCheck })},
}

var insightSetters = func() map[string]func(*InstagramInsights, string) {
	out := map[string]func(*InstagramInsights, string){}
	for _, f := range insightFields {
		for _, k := range f.keys {
			out[k] = f.set
		}
	}
	return out
}()

func looksLikeInsights(low string) bool {
	return strings.Contains(low, "ig_insights") ||
		(strings.Contains(low, "инсайт") && strings.Contains(low, "инст")) ||
		(strings.Contains(low, "instagram") && strings.Contains(low, "insight"))
}

// ParseInstagramInsights reads pasted Instagram statistics. It returns nil
// when text does not look like an insights report.
func ParseInstagramInsights(text string) *InstagramInsights {
	if !looksLikeInsights(strings.ToLower(text)) {
		return nil
	}
	in := &InstagramInsights{Raw: truncateRunes(text, maxInsightsRaw)}

	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}

	for _, ln := range lines {
		if m := handleRef.FindStringSubmatch(ln); m != nil {
			in.Handle = "@" + m[1]
			break
		}
	}

	for _, ln := range lines {
		m := kvLine.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		if set, ok := insightSetters[strings.ToLower(strings.TrimSpace(m[1]))]; ok {
			set(in, m[2])
		}
	}

	for _, ln := range lines {
		if numberedLine.MatchString(ln) {
			in.TopContent = append(in.TopContent, truncateRunes(ln, maxTopLineRunes))
			if len(in.TopContent) == maxTopContent {
				break
			}
		}
	}
	return in
}

// parseNumber reads the first number in s, accepting space thousands
// separators and a decimal comma.
func parseNumber(s string) *float64 {
	m := numberRun.FindString(strings.ReplaceAll(s, "\u00a0", " "))
	if m == "" {
		return nil
	}
	raw := strings.NewReplacer(" ", "", "\t", "", ",", ".").Replace(strings.TrimSpace(m))
	raw = strings.TrimRight(raw, ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
