package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"I want to join a beer crawl", IntentJoin},
		{"BEER", IntentJoin},
		{"sign up please", IntentJoin},
		{"signup", IntentJoin},
		{"can I join?", IntentJoin},
		{"yes", IntentConfirm},
		{"Yes!", IntentConfirm},
		{"yes please", IntentConfirm},
		{"I don't like this group", IntentRegroup},
		{"dont like this group", IntentRegroup},
		{"find another", IntentRegroup},
		{"help", IntentHelp},
		{"HELP me", IntentHelp},
		{"hello there", IntentUnknown},
		{"", IntentUnknown},
		{"   ", IntentUnknown},
		// Join keywords outrank confirmation.
		{"yes, sign me up for a beer crawl", IntentJoin},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.text))
		})
	}
}

// Classification must be stable under case changes and surrounding
// whitespace, since WhatsApp clients normalize neither.
func TestClassifyCaseInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z' ]{0,40}`).Draw(t, "text")
		upper := strings.ToUpper(text)
		padded := "  " + text + "  "

		want := Classify(text)
		if got := Classify(upper); got != want {
			t.Fatalf("case change moved intent: %q=%v, %q=%v", text, want, upper, got)
		}
		if got := Classify(padded); got != want {
			t.Fatalf("padding moved intent: %q=%v, %q=%v", text, want, padded, got)
		}
	})
}
