package bot

import "strings"

// Intent is a coarse classification of an inbound message.
type Intent string

const (
	IntentJoin    Intent = "join"
	IntentConfirm Intent = "confirm"
	IntentRegroup Intent = "regroup"
	IntentHelp    Intent = "help"
	IntentUnknown Intent = "unknown"
)

var joinKeywords = []string{"beer", "crawl", "join", "sign up", "signup"}

var regroupKeywords = []string{"don't like this group", "dont like this group", "find another"}

// Classify maps message text to an intent. Rules are checked in order
// and the first match wins: join keywords outrank confirmation, so
// "yes, sign me up for a beer crawl" joins instead of confirming.
func Classify(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return IntentUnknown
	}

	for _, kw := range joinKeywords {
		if strings.Contains(lower, kw) {
			return IntentJoin
		}
	}
	if strings.Contains(lower, "yes") {
		return IntentConfirm
	}
	for _, kw := range regroupKeywords {
		if strings.Contains(lower, kw) {
			return IntentRegroup
		}
	}
	if strings.Contains(lower, "help") {
		return IntentHelp
	}
	return IntentUnknown
}
