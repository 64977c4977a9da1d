package classifier

import (
	"testing"

	appdomain "apptrack-backend/internal/application/domain"
	syncdomain "apptrack-backend/internal/sync/domain"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		body     string
		category appdomain.Category
		matched  bool
	}{
		{
			name:     "application confirmation",
			subject:  "Thank you for applying to Acme",
			body:     "We received your application and will be in touch.",
			category: appdomain.CategoryApplied,
			matched:  true,
		},
		{
			name:     "interview invitation",
			subject:  "Interview availability",
			body:     "We would like to schedule a call with the team.",
			category: appdomain.CategoryInterview,
			matched:  true,
		},
		{
			name:     "offer",
			subject:  "Your offer letter from Acme",
			body:     "We are pleased to offer you the position.",
			category: appdomain.CategoryOffer,
			matched:  true,
		},
		{
			name:     "rejection",
			subject:  "Update on your application",
			body:     "We regret to inform you that we will not be moving forward.",
			category: appdomain.CategoryRejected,
			matched:  true,
		},
		{
			name:     "case insensitive",
			subject:  "UNFORTUNATELY",
			body:     "",
			category: appdomain.CategoryRejected,
			matched:  true,
		},
		{
			name:    "no rule matches",
			subject: "Quick question",
			body:    "Do you have a minute to chat about the project?",
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &syncdomain.FullMessage{Subject: tt.subject, Body: tt.body}
			category, matched := Categorize(msg)
			assert.Equal(t, tt.matched, matched)
			if tt.matched {
				assert.Equal(t, tt.category, category)
			}
		})
	}
}

// A rejection routinely mentions the interview it follows; the rejection
// rule group is evaluated first so it wins.
func TestCategorizeRejectionOutranksInterview(t *testing.T) {
	msg := &syncdomain.FullMessage{
		Subject: "Following up on your interview",
		Body:    "Unfortunately we have decided to proceed with other candidates after your interview.",
	}
	category, matched := Categorize(msg)
	assert.True(t, matched)
	assert.Equal(t, appdomain.CategoryRejected, category)
}

// Offer emails that mention scheduling still classify as Offer only when no
// rejection or interview phrase appears first in rule order.
func TestCategorizeInterviewOutranksOffer(t *testing.T) {
	msg := &syncdomain.FullMessage{
		Subject: "Next round",
		Body:    "Congratulations on passing the phone screen, let's schedule the next round.",
	}
	category, matched := Categorize(msg)
	assert.True(t, matched)
	assert.Equal(t, appdomain.CategoryInterview, category)
}
