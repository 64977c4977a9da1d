package classifier

import (
	"regexp"
	"strings"

	syncdomain "apptrack-backend/internal/sync/domain"

	"apptrack-backend/pkg/fuzzy"
)

// CompanyUnknown is the forced fallback when no extraction layer produces a
// confident name.
const CompanyUnknown = "Unknown"

// minCompanyConfidence is the floor below which a guess is discarded.
const minCompanyConfidence = 0.5

// Free mail providers never name a company.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"icloud.com":     true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
}

// atsBrands are ATS product names that appear in display names
// ("Acme via Greenhouse") and must not be mistaken for the company.
var atsBrands = []string{
	"greenhouse",
	"lever",
	"workday",
	"icims",
	"smartrecruiters",
	"jobvite",
	"ashby",
	"taleo",
	"bamboohr",
	"recruitee",
	"workable",
	"linkedin",
	"indeed",
}

var (
	signatureTeamRe = regexp.MustCompile(`(?im)^(?:the\s+)?([A-Z][A-Za-z0-9&.' -]{1,40}?)\s+(?:recruiting|recruitment|talent|hiring|people|careers)?\s*team\s*$`)
	onBehalfRe      = regexp.MustCompile(`(?i)on behalf of\s+([A-Z][A-Za-z0-9&.' -]{1,40}?)(?:[,.\n]|$)`)
	atAtsTenantRe   = regexp.MustCompile(`^([a-z0-9-]+)\.`)
)

type companyGuess struct {
	name       string
	confidence float64
}

// ExtractCompany resolves the company name in layered order: explicit
// signature block, ATS tenant branding, sender domain, sender display name.
// A guess below the confidence floor falls back to "Unknown" instead.
func ExtractCompany(msg *syncdomain.FullMessage) string {
	layers := []companyGuess{
		fromSignature(msg.Body),
		fromATSBranding(msg.FromAddress, msg.FromName),
		fromSenderDomain(msg.FromAddress),
		fromDisplayName(msg.FromName),
	}

	for _, guess := range layers {
		if guess.name == "" || guess.confidence < minCompanyConfidence {
			continue
		}
		if cleaned := cleanCompanyName(guess.name); cleaned != "" {
			return cleaned
		}
	}
	return CompanyUnknown
}

func fromSignature(body string) companyGuess {
	if m := signatureTeamRe.FindStringSubmatch(body); m != nil {
		return companyGuess{name: m[1], confidence: 0.9}
	}
	if m := onBehalfRe.FindStringSubmatch(body); m != nil {
		return companyGuess{name: m[1], confidence: 0.8}
	}
	return companyGuess{}
}

// fromATSBranding extracts the tenant from addresses like
// no-reply@acme.greenhouse.io, or the prefix of "Acme via Greenhouse".
func fromATSBranding(address, displayName string) companyGuess {
	domain := senderDomain(address)
	if MatchesATSDomain(address) {
		for _, ats := range atsDomains {
			if strings.HasSuffix(domain, "."+ats) {
				tenant := strings.TrimSuffix(domain, "."+ats)
				if m := atAtsTenantRe.FindStringSubmatch(tenant + "."); m != nil && m[1] != "mail" && m[1] != "jobs" {
					return companyGuess{name: titleCase(m[1]), confidence: 0.7}
				}
			}
		}
		// "Acme via Greenhouse" style display names
		if idx := strings.Index(strings.ToLower(displayName), " via "); idx > 0 {
			return companyGuess{name: displayName[:idx], confidence: 0.7}
		}
	}
	return companyGuess{}
}

func fromSenderDomain(address string) companyGuess {
	domain := senderDomain(address)
	if domain == "" || freeMailDomains[domain] || MatchesATSDomain(address) {
		return companyGuess{}
	}
	// Use the registrable label: careers.acme.com -> acme
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return companyGuess{}
	}
	label := parts[len(parts)-2]
	if label == "" {
		return companyGuess{}
	}
	return companyGuess{name: titleCase(label), confidence: 0.6}
}

func fromDisplayName(displayName string) companyGuess {
	name := displayName
	if idx := strings.Index(strings.ToLower(name), " via "); idx > 0 {
		name = name[:idx]
	}
	// Drop recruiting-role words so "Acme Careers" resolves to "Acme".
	words := strings.Fields(name)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ",.|"))
		switch lw {
		case "careers", "talent", "recruiting", "recruitment", "jobs", "hiring", "hr", "team", "notifications", "noreply", "no-reply":
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return companyGuess{}
	}
	candidate := strings.Join(kept, " ")
	// A bare ATS product name is branding, not a company.
	if fuzzy.MatchAny(atsBrands, candidate) != "" && len(kept) == 1 {
		return companyGuess{}
	}
	return companyGuess{name: candidate, confidence: 0.5}
}

func cleanCompanyName(name string) string {
	name = strings.TrimSpace(strings.Trim(name, `"'`))
	if len(name) < 2 || len(name) > 60 {
		return ""
	}
	return name
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var roleRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)application (?:for|to) (?:the )?(.+?) (?:position|role|opening)`),
	regexp.MustCompile(`(?i)your application (?:for|to) (?:the )?["']?([^"'\n,]+?)["']?(?:\s+at\b|[,.\n]|$)`),
	regexp.MustCompile(`(?i)(?:the )?(.+?) (?:position|role) at\b`),
	regexp.MustCompile(`(?i)interview for (?:the )?(.+?)(?:\s+position|\s+role|[,.\n]|$)`),
}

// ExtractRole pulls a role title out of the subject line when one of the
// common confirmation phrasings is present. Empty when nothing matches; the
// role rarely appears anywhere more reliable than the subject.
func ExtractRole(msg *syncdomain.FullMessage) string {
	for _, re := range roleRes {
		if m := re.FindStringSubmatch(msg.Subject); m != nil {
			role := strings.TrimSpace(m[1])
			if len(role) >= 2 && len(role) <= 80 {
				return role
			}
		}
	}
	return ""
}
