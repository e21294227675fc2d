// Package core holds the research domain model: subtasks, plans, findings,
// evaluations, checkpoints, the error taxonomy and the ports to external
// gateways and reasoning services.
package core

import "strings"

// DefaultAcademicDomains are the sources academic-mode searches are restricted to.
var DefaultAcademicDomains = []string{
	"arxiv.org",
	"nature.com",
	"ieee.org",
	"sciencedirect.com",
	"springer.com",
	"pubmed.ncbi.nlm.nih.gov",
	"acm.org",
	"wiley.com",
	"jstor.org",
	"scholar.google.com",
	"researchgate.net",
}

// DefaultDenylistDomains are dropped from general-mode results.
var DefaultDenylistDomains = []string{
	"pinterest.com",
	"quora.com",
	"reddit.com",
	"facebook.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"instagram.com",
	"linkedin.com",
}

// MatchesDomain reports whether host equals one of domains or is a subdomain of one.
func MatchesDomain(host string, domains []string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
