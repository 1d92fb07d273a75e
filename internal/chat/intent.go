package chat

import "strings"

type intentKeywords struct {
	intent   string
	keywords []string
}

// Checked in order; the first intent with a matching keyword wins.
var intentTable = []intentKeywords{
	{IntentContent, []string{"content", "post", "plan", "text", "rubric", "stories", "контент", "пост", "план", "текст", "рубрик", "сторис"}},
	{IntentStrategy, []string{"strateg", "funnel", "positioning", "target audience", "goal", "стратег", "ворон", "позиционир", "целевая", "цели"}},
	{IntentAudit, []string{"audit", "review", "check", "assess", "аудит", "разбор", "провер", "оценка"}},
	{IntentAds, []string{"advert", "targeting", "ads", "promotion", "реклам", "таргет", "продвижение", "объявлени"}},
	{IntentAnalysis, []string{"analyt", "metric", "report", "data", "growth", "drop", "аналит", "метрик", "отчет", "отчёт", "данные", "рост", "падение"}},
}

// DetectIntent labels text with the first intent whose keywords it contains.
func DetectIntent(text string) string {
	lowered := strings.ToLower(text)
	for _, row := range intentTable {
		if containsAny(lowered, row.keywords) {
			return row.intent
		}
	}
	return IntentOther
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
