package dialogue

import (
	"regexp"
	"strings"
)

// Intent 用户对待确认提案的意图判定结果。
type Intent int

const (
	IntentUnclear Intent = iota
	IntentAffirm
	IntentDecline
)

var affirmativeKeywords = []string{
	"yes",
	"confirm",
	"proceed",
	"approved",
	"looks good",
	"go ahead",
	"sounds good",
	"do it",
	"send it",
	"continue",
}

var negativeKeywords = []string{
	"no",
	"cancel",
	"stop",
	"don't",
	"do not",
	"reject",
	"decline",
	"abort",
	"wait",
	"hold on",
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func normalize(text string) string {
	lowered := strings.ToLower(text)
	lowered = strings.ReplaceAll(lowered, "’", "'")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(lowered, " "))
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// ClassifyIntent 用关键词匹配判定确认意图。
// 同时命中肯定与否定关键词时按否定处理，宁可多问一次也不放行。
func ClassifyIntent(text string) Intent {
	normalized := normalize(text)
	if normalized == "" {
		return IntentUnclear
	}
	negative := containsAny(normalized, negativeKeywords)
	affirmative := containsAny(normalized, affirmativeKeywords)
	switch {
	case negative:
		return IntentDecline
	case affirmative:
		return IntentAffirm
	default:
		return IntentUnclear
	}
}
