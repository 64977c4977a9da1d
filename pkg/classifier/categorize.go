package classifier

import (
	"strings"

	appdomain "apptrack-backend/internal/application/domain"
	syncdomain "apptrack-backend/internal/sync/domain"
)

// categoryRule pairs one category with the phrases that assign it.
type categoryRule struct {
	category appdomain.Category
	phrases  []string
}

// categoryRules is evaluated in order, first match wins, which makes the
// one-category-per-message invariant structural. Rejection outranks
// everything: a rejection email routinely mentions the interview it follows.
// Ghosted is never assigned here; only the sweep produces it.
var categoryRules = []categoryRule{
	{
		category: appdomain.CategoryRejected,
		phrases: []string{
			"unfortunately",
			"not moving forward",
			"not be moving forward",
			"decided to proceed with other candidates",
			"decided to move forward with other candidates",
			"pursue other candidates",
			"we regret to inform",
			"regret to inform you",
			"not selected",
			"no longer under consideration",
			"position has been filled",
			"unable to offer you",
			"not the right fit at this time",
		},
	},
	{
		category: appdomain.CategoryInterview,
		phrases: []string{
			"interview",
			"phone screen",
			"technical screen",
			"schedule a call",
			"schedule a time",
			"schedule some time",
			"your availability",
			"meet the team",
			"online assessment",
			"coding challenge",
			"take-home assignment",
			"next round",
		},
	},
	{
		category: appdomain.CategoryOffer,
		phrases: []string{
			"pleased to offer",
			"offer letter",
			"extend an offer",
			"job offer",
			"offer of employment",
			"compensation package",
			"base salary",
			"start date",
			"welcome aboard",
			"accepted the offer",
			"congratulations",
		},
	},
	{
		category: appdomain.CategoryApplied,
		phrases: []string{
			"thank you for applying",
			"thank you for your application",
			"thanks for applying",
			"application received",
			"application has been received",
			"we have received your application",
			"received your application",
			"application confirmation",
			"application was sent",
			"application has been submitted",
			"successfully submitted",
		},
	},
}

// Categorize assigns the Stage 2 category. matched is false when no rule
// group hit; the caller decides between the ATS default and uncertain.
func Categorize(msg *syncdomain.FullMessage) (category appdomain.Category, matched bool) {
	haystack := strings.ToLower(msg.Subject + "\n" + msg.Body)

	for _, rule := range categoryRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(haystack, phrase) {
				return rule.category, true
			}
		}
	}

	return "", false
}
