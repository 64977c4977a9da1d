// Package classifier implements the two-stage rule chain that turns a fetched
// message into an application lifecycle category: a high-recall candidate
// filter followed by a high-precision, first-match-wins category assignment.
// It is pure computation; all I/O stays with the caller.
package classifier

import (
	appdomain "apptrack-backend/internal/application/domain"
	syncdomain "apptrack-backend/internal/sync/domain"
)

// Result is the outcome of running one message through the pipeline.
type Result struct {
	// Candidate is false when Stage 1 discarded the message; none of the
	// other fields are meaningful in that case.
	Candidate bool
	// Score is the Stage 1 evidence total, kept for auditing.
	Score int

	Category appdomain.Category
	// Uncertain marks a candidate that matched no category rule and whose
	// sender is not a confirmed ATS domain. Uncertain records are stored for
	// audit but kept off the board. Under the catch-all policy the result is
	// filed as Applied instead and Uncertain stays false.
	Uncertain bool

	CompanyName string
	RoleTitle   string
}

// Pipeline holds the classification policy knobs.
type Pipeline struct {
	// CatchallUncertain files uncertain candidates under Applied instead of
	// retaining them outside the board view.
	CatchallUncertain bool
}

// Classify runs the full chain on one normalized message.
func (p *Pipeline) Classify(msg *syncdomain.FullMessage) Result {
	score, atsConfirmed := EvidenceScore(msg)
	if score < CandidateThreshold {
		return Result{Candidate: false, Score: score}
	}

	res := Result{
		Candidate:   true,
		Score:       score,
		CompanyName: ExtractCompany(msg),
		RoleTitle:   ExtractRole(msg),
	}

	category, matched := Categorize(msg)
	switch {
	case matched:
		res.Category = category
	case atsConfirmed:
		// A confirmed ATS sender with no matched phrase is safely an
		// application confirmation.
		res.Category = appdomain.CategoryApplied
	case p.CatchallUncertain:
		res.Category = appdomain.CategoryApplied
	default:
		// Retained for audit, excluded from the board.
		res.Category = appdomain.CategoryApplied
		res.Uncertain = true
	}

	return res
}
