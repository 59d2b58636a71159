package report

import (
	"regexp"
	"sort"
	"strings"
)

// Finding is a vulnerability identifier extracted from a report, tagged
// with the knowledge-base family it belongs to.
type Finding struct {
	ID        string `json:"id"`
	SourceTag string `json:"source_tag"`
}

const (
	SourceMITRE = "mitre_attack"
	SourceOWASP = "owasp"
	SourceCVE   = "cve"
)

var idPatterns = []struct {
	sourceTag string
	re        *regexp.Regexp
}{
	{SourceMITRE, regexp.MustCompile(`(?i)\b(T\d{4}(?:\.\d{3})?)\b`)},
	{SourceOWASP, regexp.MustCompile(`(?i)\b(A(?:PI)?\d{1,2}:\d{4})\b`)},
	{SourceCVE, regexp.MustCompile(`(?i)\b(CVE-\d{4}-\d{4,})\b`)},
}

// ExtractFindings scans normalized report text for known vulnerability
// identifiers. Results are ordered by first occurrence in the text and
// deduplicated by normalized id, so repeated mentions yield one finding.
func ExtractFindings(text string) []Finding {
	type hit struct {
		pos     int
		finding Finding
	}
	var hits []hit
	for _, p := range idPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			id := strings.ToUpper(text[loc[2]:loc[3]])
			hits = append(hits, hit{pos: loc[2], finding: Finding{ID: id, SourceTag: p.sourceTag}})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]struct{}, len(hits))
	findings := make([]Finding, 0, len(hits))
	for _, h := range hits {
		if _, dup := seen[h.finding.ID]; dup {
			continue
		}
		seen[h.finding.ID] = struct{}{}
		findings = append(findings, h.finding)
	}
	return findings
}
