// Package prompt assembles the system prompt for SQL generation: base
// instructions, the formatted schema, retrieved examples, and the
// instruction modules the query's wording calls for. Assembled prompts are
// cached semantically, keyed by the schema fingerprint they were built
// against.
package prompt

import (
	"regexp"
	"strings"
)

// Query intents. The intent picks one guidance sentence in the prompt.
const (
	IntentCounting  = "counting"
	IntentListing   = "listing"
	IntentComparing = "comparing"
	IntentVerifying = "verifying"
	IntentGeneral   = "general"
)

// Instruction module names.
const (
	ModuleActiveStatus         = "active_status"
	ModuleOvereligibility      = "overeligibility"
	ModuleVerificationStatus   = "verification_status"
	ModuleOrganizationMatching = "organization_matching"
	ModuleTextMatching         = "text_matching"
	ModuleEligibilityRecords   = "eligibility_records"
)

// Analysis is the result of classifying a query: its intent plus the
// instruction modules its wording requires.
type Analysis struct {
	Intent  string
	Modules []string
}

// orgNamePattern finds capitalized organization names after a preposition,
// e.g. "from Wayne Enterprises" or "at Stark".
var orgNamePattern = regexp.MustCompile(`(?:from|at|in|with)\s+([A-Z][a-z]+(?:\s+(?:Corp|Inc|LLC|Ltd|Corporation|Company|Enterprises|Industries))?)`)

// Analyze classifies query. The text_matching module is always included;
// ILIKE wildcard guidance applies to every query that filters on text.
func Analyze(query string) Analysis {
	q := strings.ToLower(query)

	a := Analysis{Intent: detectIntent(q)}

	if containsAny(q, "active", "current", "eligible", "eligibility") {
		a.Modules = append(a.Modules, ModuleActiveStatus)
	}
	if containsAny(q, "overeligible", "multiple", "duplicate") {
		a.Modules = append(a.Modules, ModuleOvereligibility)
	}
	if containsAny(q, "verify", "verified", "verification", "enrolled", "enrollment",
		"validated", "users have", "people have", "members have") {
		a.Modules = append(a.Modules, ModuleVerificationStatus)
	}
	if containsAny(q, "corp", "inc", "llc", "ltd", "corporation", "company", "enterprises", "industries") ||
		containsAny(q, "from", "at", "in", "with", "organization", "business") ||
		orgNamePattern.MatchString(query) {
		a.Modules = append(a.Modules, ModuleOrganizationMatching)
	}
	if containsAny(q, "eligibility record", "eligibility records") {
		a.Modules = append(a.Modules, ModuleEligibilityRecords)
	}

	a.Modules = append(a.Modules, ModuleTextMatching)
	return a
}

func detectIntent(q string) string {
	switch {
	case containsAny(q, "how many", "count", "total", "number of"):
		return IntentCounting
	case containsAny(q, "list", "show", "get", "find", "display"):
		return IntentListing
	case containsAny(q, "compare", "versus", "vs", "difference"):
		return IntentComparing
	case containsAny(q, "is ", "check if", "verify", "has ", "have "):
		return IntentVerifying
	}
	return IntentGeneral
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
