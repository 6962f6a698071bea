package lifecycle

import (
	"fmt"

	"github.com/ironlady-tech/wati-support/internal/identity"
)

const (
	resolvedThanksText = "Thank you for confirming! We're glad we could help. " +
		"Feel free to reach out anytime."
	followupPromptText = "We're sorry the issue isn't fully resolved. " +
		"Please tell us what additional help you need and our team will follow up."
	stillInProgressText = "Thanks for the update. Your ticket is still in progress " +
		"and our team will get back to you shortly."
)

func describePrompt(cat identity.AwaitingCategory) string {
	if cat == identity.AwaitingConcern {
		return "We're here to help. Please describe your concern in a message and we'll raise it with our team."
	}
	return "Sure! Please type your query in a message and our team will assist you."
}

func ticketCreatedText(number string) string {
	return fmt.Sprintf("Your support ticket %s has been created. "+
		"Our team has been notified and will respond as soon as possible.", number)
}
