package classifier

import (
	"strings"

	syncdomain "apptrack-backend/internal/sync/domain"
)

// CandidateThreshold is deliberately low: a missed job email costs far more
// than a false positive, which Stage 2 still has to confirm.
const CandidateThreshold = 2

// Evidence weights. All weights are positive so the score is monotonic in
// the evidence present: adding signals can never demote a candidate.
const (
	weightATSDomain  = 3
	weightSenderName = 2
	weightKeyword    = 1
)

// atsDomains lists known applicant-tracking-system sending domains. Matched
// as suffixes so tenant subdomains (acme.greenhouse.io) count.
var atsDomains = []string{
	"greenhouse.io",
	"greenhouse-mail.io",
	"lever.co",
	"hire.lever.co",
	"myworkday.com",
	"myworkdayjobs.com",
	"icims.com",
	"smartrecruiters.com",
	"jobvite.com",
	"ashbyhq.com",
	"taleo.net",
	"bamboohr.com",
	"recruitee.com",
	"breezy.hr",
	"workablemail.com",
	"workable.com",
	"successfactors.com",
	"hirebridge.com",
	"jazz.co",
	"applytojob.com",
	"linkedin.com",
	"indeed.com",
	"indeedemail.com",
	"hackerrankforwork.com",
	"wellfound.com",
}

// candidateKeywords are loose subject/body signals. Each distinct hit adds
// one point.
var candidateKeywords = []string{
	"thank you for applying",
	"thank you for your application",
	"application received",
	"application has been received",
	"received your application",
	"your application",
	"interview",
	"recruiter",
	"recruiting team",
	"talent acquisition",
	"hiring team",
	"hiring manager",
	"job opportunity",
	"position at",
	"role at",
	"candidate",
	"next steps in the process",
	"your candidacy",
}

// senderNameKeywords mark recruiting-flavored display names.
var senderNameKeywords = []string{
	"careers",
	"talent",
	"recruiting",
	"recruitment",
	"jobs",
	"hiring",
	"people team",
	"no-reply@greenhouse",
}

// EvidenceScore computes the Stage 1 evidence total and whether the sender is
// a confirmed ATS domain.
func EvidenceScore(msg *syncdomain.FullMessage) (score int, atsConfirmed bool) {
	if MatchesATSDomain(msg.FromAddress) {
		score += weightATSDomain
		atsConfirmed = true
	}

	name := strings.ToLower(msg.FromName)
	for _, kw := range senderNameKeywords {
		if strings.Contains(name, kw) {
			score += weightSenderName
			break
		}
	}

	haystack := strings.ToLower(msg.Subject + "\n" + msg.Body)
	for _, kw := range candidateKeywords {
		if strings.Contains(haystack, kw) {
			score += weightKeyword
		}
	}

	return score, atsConfirmed
}

// IsCandidate applies the Stage 1 decision rule.
func IsCandidate(msg *syncdomain.FullMessage) bool {
	score, _ := EvidenceScore(msg)
	return score >= CandidateThreshold
}

// MatchesATSDomain reports whether address belongs to a known ATS domain.
func MatchesATSDomain(address string) bool {
	domain := senderDomain(address)
	if domain == "" {
		return false
	}
	for _, ats := range atsDomains {
		if domain == ats || strings.HasSuffix(domain, "."+ats) {
			return true
		}
	}
	return false
}

func senderDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}
