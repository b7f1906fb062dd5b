package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/context-graph/internal/model"
)

// minSelfNameLen guards name-based self matching. Shorter company names
// ("Go", "HP") would match too many unrelated candidates.
const minSelfNameLen = 3

// serviceProviderThreshold is the number of independent signals needed to
// classify a candidate as a service provider rather than a competitor.
const serviceProviderThreshold = 2

// Company identifies the company that owns a competitor list.
type Company struct {
	Name   string
	Domain string
}

// CompanyOf returns the owning company identity of a graph.
func CompanyOf(g *model.ContextGraph) Company {
	if g == nil {
		return Company{}
	}
	return Company{Name: g.CompanyName, Domain: g.CompanyDomain}
}

// IsSelf reports whether a candidate refers to the owning company itself:
// its domain equals or is a subdomain of the company domain, or its name is
// the company name or starts with it followed by a space or hyphen.
func IsSelf(candidateName, candidateDomain, companyName, companyDomain string) bool {
	cd := NormalizeDomain(candidateDomain)
	od := NormalizeDomain(companyDomain)
	if cd != "" && od != "" && (cd == od || strings.HasSuffix(cd, "."+od)) {
		return true
	}

	company := strings.ToLower(strings.TrimSpace(companyName))
	if len([]rune(company)) < minSelfNameLen {
		return false
	}
	candidate := strings.ToLower(strings.TrimSpace(candidateName))
	if candidate == company {
		return true
	}
	return strings.HasPrefix(candidate, company+" ") || strings.HasPrefix(candidate, company+"-")
}

var serviceNamePatterns = compileAll(
	`agency$`,
	`agencies$`,
	`consulting$`,
	`consultants$`,
	`consultancy$`,
	`studio$`,
	`studios$`,
	`partners$`,
	`collective$`,
	`creative$`,
	`marketing$`,
	`media$`,
	`digital$`,
	`advisors$`,
)

var serviceTextPatterns = compileAll(
	`\bservices\b`,
	`\bportfolio\b`,
	`\bclients\b`,
	`\bcase stud(y|ies)\b`,
	`\bagency\b`,
	`\bfull[- ]service\b`,
	`\bconsultancy\b`,
	`\bwe help brands\b`,
	`\bretainer\b`,
	`\bwhite[- ]label\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ServiceProviderSignals counts independent service-provider signals: one
// per matching name pattern and one per text pattern found anywhere in the
// candidate's positioning, category or offers.
func ServiceProviderSignals(p model.CompetitorProfile) int {
	hits := 0

	name := strings.ToLower(strings.TrimSpace(p.Name))
	for _, re := range serviceNamePatterns {
		if re.MatchString(name) {
			hits++
		}
	}

	text := strings.ToLower(strings.Join(append([]string{p.Positioning, p.Category}, p.Offers...), "\n"))
	for _, re := range serviceTextPatterns {
		if re.MatchString(text) {
			hits++
		}
	}
	return hits
}

// IsServiceProvider reports whether the candidate shows at least two
// service-provider signals. A single hit is not enough.
func IsServiceProvider(p model.CompetitorProfile) bool {
	return ServiceProviderSignals(p) >= serviceProviderThreshold
}

// FilterCompetitors removes self references and service providers from
// list. Each rejected profile is logged as a Skip operation.
func (r *Resolver) FilterCompetitors(list []model.CompetitorProfile, company Company) ([]model.CompetitorProfile, []model.MergeOperation) {
	kept := make([]model.CompetitorProfile, 0, len(list))
	var log []model.MergeOperation

	for _, p := range list {
		domain := p.Domain
		if strings.TrimSpace(domain) == "" {
			domain = p.Website
		}
		if IsSelf(p.Name, domain, company.Name, company.Domain) {
			log = append(log, r.op(model.MergeKindSkip, p.Name, company.Name, 0, "refers to the company itself"))
			continue
		}
		if n := ServiceProviderSignals(p); n >= serviceProviderThreshold {
			log = append(log, r.op(model.MergeKindSkip, p.Name, "", 0,
				fmt.Sprintf("service provider (%d signals)", n)))
			continue
		}
		kept = append(kept, p)
	}
	return kept, log
}

// FilterCompetitors runs Resolver.FilterCompetitors with default settings.
func FilterCompetitors(list []model.CompetitorProfile, company Company) ([]model.CompetitorProfile, []model.MergeOperation) {
	return NewResolver().FilterCompetitors(list, company)
}
