package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/askdb/internal/examples"
)

const basePrompt = `You are an expert SQL assistant that generates PostgreSQL SQL queries.
You are given a database schema and a natural language query.
Your task is to convert the natural language into a valid SQL query.`

const closingInstructions = `Generate ONLY SQL queries that query data, specifically SELECT statements.
Do not generate queries that modify data.
Ensure your SQL is valid PostgreSQL syntax.
All table names should be prefixed with the schema name, e.g., 'eligibility.member'.
Return only the SQL query as plain text, with no markdown formatting or explanations.`

var intentInstructions = map[string]string{
	IntentCounting:  "This appears to be a counting query. Use COUNT() and consider grouping if needed.",
	IntentListing:   "This appears to be a listing query. Consider what fields to include and use WHERE clauses to filter appropriately.",
	IntentComparing: "This appears to be a comparison query. Consider using GROUP BY with multiple metrics or conditional expressions.",
	IntentVerifying: "This appears to be a verification query. Consider returning a boolean result or using EXISTS.",
}

var instructionModules = map[string]string{
	ModuleActiveStatus: `Active members: A member is considered active when the current date is within their effective_range.
Always use the PostgreSQL operator '@>' to check this: WHERE effective_range @> CURRENT_DATE`,

	ModuleOvereligibility: `Overeligibility: A person is considered "overeligible" if they have active member records in
more than one organization with the same first name, last name, and date of birth.
To check for overeligibility, use:
SELECT COUNT(DISTINCT organization_id) > 1 FROM eligibility.member
WHERE first_name = 'John' AND last_name = 'Smith' AND date_of_birth = '1980-01-01'
AND effective_range @> CURRENT_DATE`,

	ModuleVerificationStatus: `Verification Status: Users are considered "verified" or "enrolled" when:
1. They have a record in the verification table with verified_at IS NOT NULL
2. AND deactivated_at IS NULL (or deactivated_at > CURRENT_DATE)
3. AND they are linked via member_verification table to a member record

Example verification join pattern:
JOIN eligibility.member_verification mv ON m.id = mv.member_id
JOIN eligibility.verification v ON mv.verification_id = v.id
WHERE v.verified_at IS NOT NULL
AND (v.deactivated_at IS NULL OR v.deactivated_at > CURRENT_DATE)`,

	ModuleOrganizationMatching: `Important for organization name matching:
1. When searching for an organization, use only the key distinctive part of the name
2. Extract just the company name without suffixes like "Corp", "Inc", "LLC", etc.
3. For a name like "Stark Corp" or "Stark Industries", search using just "Stark": name ILIKE '%stark%'
4. Always broaden the search terms to avoid missing results by using just the distinctive name part
5. Examples:
   - For "ACME Corporation" search with name ILIKE '%acme%'
   - For "Wayne Enterprises" search with name ILIKE '%wayne%'
   - For "Stark Industries" search with name ILIKE '%stark%'`,

	ModuleTextMatching: `Important patterns for matching text:
1. Always use wildcards with ILIKE for name matching: ILIKE '%name%' not ILIKE 'name'
2. For first/last names, use: first_name ILIKE '%james%' to match any name containing 'james'
3. For organization names, use: name ILIKE '%acme%' to match any name containing 'acme'`,

	ModuleEligibilityRecords: `Important: In this system, the term "eligibility records" always refers to member records.
When querying for eligibility records, use the member table and check effective_range for active status:
member.effective_range @> CURRENT_DATE
Do not use verification records to represent eligibility unless the query specifically asks for verification.`,
}

// BuildSystemPrompt assembles the full system prompt for a query. schemaStr
// is the already-formatted schema text; examplesStr may be empty.
func BuildSystemPrompt(query, schemaStr, examplesStr string, analysis Analysis) string {
	parts := []string{
		basePrompt,
		"Here's the database schema you're working with:\n" + schemaStr,
	}

	if examplesStr != "" {
		parts = append(parts, examplesStr)
	}

	if instr, ok := intentInstructions[analysis.Intent]; ok {
		parts = append(parts, instr)
	}

	for _, name := range analysis.Modules {
		if module, ok := instructionModules[name]; ok {
			parts = append(parts, module)
		}
	}

	parts = append(parts, closingInstructions)
	return strings.Join(parts, "\n\n")
}

// FormatExamples renders retrieved examples as a numbered prompt section.
// Returns the empty string when there are no examples.
func FormatExamples(exs []examples.Example) string {
	if len(exs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Here are examples of similar queries:\n\n")
	for i, ex := range exs {
		fmt.Fprintf(&b, "Example %d:\nQuery: %s\nSQL: %s\n\n", i+1, ex.NaturalQuery, ex.SQL)
	}
	return b.String()
}
