package classifier

import "strings"

// BotAction categorizes an outgoing bot message. The chatbot's own outbound
// texts are the only signal for enrollment confirmations and course-interest
// clicks, so the ingress feeds them through here instead of Classify.
type BotAction string

const (
	BotActionEnrollment          BotAction = "enrollment_confirmation"
	BotActionCourseInterest      BotAction = "course_interest"
	BotActionParticipationNew    BotAction = "participation_new"
	BotActionParticipationActive BotAction = "participation_enrolled"
	BotActionPromptMarker        BotAction = "prompt_marker"
	BotActionPlain               BotAction = "bot_message"
)

// BotEcho is the classification of one outgoing bot message.
type BotEcho struct {
	Action BotAction
	// Program is set for enrollment confirmations and course-interest
	// blurbs: LEP, 100BM, MBW or Masterclass. Empty when the program could
	// not be detected.
	Program string
	// Marker names the prompt for audit purposes (query_prompt_sent,
	// feedback_prompt_sent, ...).
	Marker string
}

var coursePhrases = []struct {
	phrase  string
	program string
}{
	{"leadership essentials program enables you to master", "LEP"},
	{"100 board members program enables you to focus", "100BM"},
	{"master of business warfare focuses on winning", "MBW"},
	{"iron lady leadership masterclass helps you", "Masterclass"},
}

var promptMarkers = []struct {
	phrase string
	marker string
}{
	{"please share any queries or doubts", "query_prompt_sent"},
	{"please provide your feedback here", "feedback_prompt_sent"},
	{"please fill below form", "query_form_sent"},
	{"counsellor will reach out to you", "counsellor_confirmed"},
	{"thank you for your valueable feedback", "feedback_confirmed"},
}

// ClassifyBotEcho inspects an outgoing bot message.
func ClassifyBotEcho(text string) BotEcho {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "thrilled to inform") && strings.Contains(lower, "registration") {
		return BotEcho{Action: BotActionEnrollment, Program: detectProgram(lower)}
	}
	for _, c := range coursePhrases {
		if strings.Contains(lower, c.phrase) {
			return BotEcho{Action: BotActionCourseInterest, Program: c.program}
		}
	}
	if strings.Contains(lower, "welcome to the iron lady platform") {
		return BotEcho{Action: BotActionParticipationNew}
	}
	if strings.Contains(lower, "ask a question here") {
		return BotEcho{Action: BotActionParticipationActive}
	}
	for _, p := range promptMarkers {
		if strings.Contains(lower, p.phrase) {
			return BotEcho{Action: BotActionPromptMarker, Marker: p.marker}
		}
	}
	return BotEcho{Action: BotActionPlain}
}

func detectProgram(lower string) string {
	switch {
	case strings.Contains(lower, "leadership essentials"):
		return "LEP"
	case strings.Contains(lower, "100 board"):
		return "100BM"
	case strings.Contains(lower, "business warfare") || strings.Contains(lower, "mbw"):
		return "MBW"
	case strings.Contains(lower, "masterclass"):
		return "Masterclass"
	default:
		return ""
	}
}
