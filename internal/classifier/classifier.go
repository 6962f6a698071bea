// Package classifier maps normalized inbound text to one semantic kind.
// Classification is a pure function over an ordered rule table: no I/O,
// first match wins, `regular` is the catch-all.
package classifier

import (
	"regexp"
	"strings"
)

// Kind is the semantic category assigned to one inbound message.
type Kind string

const (
	KindSatisfactionYes Kind = "satisfaction_yes"
	KindSatisfactionNo  Kind = "satisfaction_no"
	KindQueryButton     Kind = "query_button"
	KindConcernButton   Kind = "concern_button"
	KindChatbotMenuEcho Kind = "chatbot_menu_echo"
	KindIgnore          Kind = "ignore"
	KindRegular         Kind = "regular"
)

// RuleTableVersion identifies the phrase table in audit logs so precedence
// changes are traceable across releases.
const RuleTableVersion = "v1"

// rule matches when the text equals one of exact, or contains one of
// substrings.
type rule struct {
	kind       Kind
	exact      []string
	substrings []string
}

// rules is evaluated in order; the order encodes precedence.
var rules = []rule{
	{
		kind:  KindSatisfactionYes,
		exact: []string{"resolved", "yes resolved", "yes, resolved", "all good now"},
		substrings: []string{
			"issue is resolved",
			"issue resolved",
			"it is resolved",
			"it's resolved",
			"problem solved",
			"i am satisfied",
		},
	},
	{
		kind:  KindSatisfactionNo,
		exact: []string{"not resolved", "no, i need more help"},
		substrings: []string{
			"need more help",
			"still need help",
			"not solved",
			"still have the issue",
			"not satisfied",
		},
	},
	{
		kind:  KindQueryButton,
		exact: []string{"i have a query", "i have query", "query"},
		substrings: []string{
			"have a query",
			"ask a query",
		},
	},
	{
		kind:  KindConcernButton,
		exact: []string{"raise a concern", "raise concern", "concern"},
		substrings: []string{
			"raise a concern",
			"have a concern",
		},
	},
	{
		kind: KindChatbotMenuEcho,
		exact: []string{
			"main menu",
			"back to menu",
			"explore programs",
			"know more",
			"talk to counsellor",
			"leadership essentials program",
			"100 board members",
			"master of business warfare",
			"masterclass",
			"iron lady masterclass",
			"ask a question here",
		},
		substrings: []string{
			"know more about lep",
			"know more about 100bm",
			"know more about mbw",
			"know more about masterclass",
		},
	},
}

// ignorePhrases is the casual-greeting/acknowledgement list. Messages in
// this set, or shorter than three characters, carry no support intent.
var ignorePhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "hii": {}, "hiii": {}, "helloo": {}, "hellooo": {},
	"good morning": {}, "good night": {}, "good evening": {}, "gm": {}, "gn": {},
	"morning": {}, "night": {}, "evening": {},
	"bye": {}, "byee": {}, "goodbye": {},
	"thanks": {}, "thank you": {}, "thankyou": {}, "thnx": {}, "thx": {}, "ty": {},
	"ok": {}, "okay": {}, "k": {}, "oky": {},
	"yes": {}, "no": {}, "ya": {}, "yep": {}, "nope": {}, "yup": {},
	"hmm": {}, "hm": {}, "mm": {},
	"cool": {}, "nice": {}, "great": {}, "awesome": {}, "sure": {}, "alright": {}, "fine": {},
	"good": {}, "bad": {}, "np": {},
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Classify assigns exactly one Kind to the message text. fromButton marks
// text that arrived as a button or interactive reply; button echoes of the
// bot's own menu are classified as menu echoes even when short.
func Classify(text string, fromButton bool) Kind {
	normalized := normalize(text)

	for _, r := range rules {
		if matches(r, normalized) {
			return r.kind
		}
	}

	if fromButton {
		// A button reply that matched nothing above is the upstream bot's
		// own UI, not a support request.
		return KindChatbotMenuEcho
	}
	if _, ok := ignorePhrases[normalized]; ok || len(normalized) < 3 {
		return KindIgnore
	}
	return KindRegular
}

// ExtractEmail returns the first embedded email address, or "".
func ExtractEmail(text string) string {
	return emailRegex.FindString(text)
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func matches(r rule, text string) bool {
	for _, e := range r.exact {
		if text == e {
			return true
		}
	}
	for _, s := range r.substrings {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
