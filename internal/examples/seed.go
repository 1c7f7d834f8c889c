package examples

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// Curated is the seed corpus of question/SQL pairs covering the business
// rules the model most often gets wrong: active status via effective_range,
// overeligibility, verification joins, and partial organization matching.
var Curated = []Example{
	{
		ID:           "example_active_members_by_org",
		NaturalQuery: "How many active members does ACME Corporation have?",
		SQL: `SELECT COUNT(*) AS active_member_count
FROM eligibility.member m
JOIN eligibility.organization o ON m.organization_id = o.id
WHERE o.name ILIKE '%ACME%'
AND m.effective_range @> CURRENT_DATE`,
		Explanation:      "This query counts active members belonging to organizations with 'ACME' in their name. A member is considered active when the current date falls within their effective_range.",
		Tables:           []string{"member", "organization"},
		BusinessConcepts: []string{"active_status", "organization_filtering"},
		QueryType:        TypeCountAggregate,
	},
	{
		ID:           "example_all_active_members_org",
		NaturalQuery: "List all active members from Wayne Enterprises",
		SQL: `SELECT m.*
FROM eligibility.member m
JOIN eligibility.organization o ON m.organization_id = o.id
WHERE o.name ILIKE '%Wayne%'
AND m.effective_range @> CURRENT_DATE`,
		Explanation:      "This query retrieves all data for active members belonging to Wayne Enterprises. Active members are those where the current date is within their effective_range.",
		Tables:           []string{"member", "organization"},
		BusinessConcepts: []string{"active_status", "organization_filtering"},
		QueryType:        TypeRetrieval,
	},
	{
		ID:           "example_active_vs_inactive",
		NaturalQuery: "Compare the count of active versus inactive members",
		SQL: `SELECT
    CASE WHEN m.effective_range @> CURRENT_DATE THEN 'Active' ELSE 'Inactive' END AS status,
    COUNT(*) AS member_count
FROM eligibility.member m
GROUP BY (m.effective_range @> CURRENT_DATE)`,
		Explanation:      "This query compares the number of active and inactive members by grouping them based on whether the current date is within their effective_range.",
		Tables:           []string{"member"},
		BusinessConcepts: []string{"active_status", "comparative_analysis"},
		QueryType:        TypeComparativeCount,
	},
	{
		ID:           "example_overeligibility_check",
		NaturalQuery: "Is John Smith born on 1980-01-01 overeligible?",
		SQL: `SELECT COUNT(DISTINCT m.organization_id) > 1 AS is_overeligible
FROM eligibility.member m
WHERE m.first_name = 'John'
AND m.last_name = 'Smith'
AND m.date_of_birth = '1980-01-01'
AND m.effective_range @> CURRENT_DATE`,
		Explanation:      "This query checks if a specific person is overeligible by counting how many distinct organizations they have active membership in. If the count is greater than 1, they are considered overeligible.",
		Tables:           []string{"member"},
		BusinessConcepts: []string{"overeligibility", "active_status"},
		QueryType:        TypeBooleanCheck,
	},
	{
		ID:           "example_list_overeligible",
		NaturalQuery: "List all overeligible members with their organizations",
		SQL: `SELECT
    m.first_name,
    m.last_name,
    m.date_of_birth,
    COUNT(DISTINCT m.organization_id) AS org_count,
    array_agg(DISTINCT o.name) AS organizations
FROM eligibility.member m
JOIN eligibility.organization o ON m.organization_id = o.id
WHERE m.effective_range @> CURRENT_DATE
GROUP BY m.first_name, m.last_name, m.date_of_birth
HAVING COUNT(DISTINCT m.organization_id) > 1`,
		Explanation:      "This query finds all overeligible members (those active in multiple organizations) and lists their names, birth dates, the count of organizations, and the names of those organizations.",
		Tables:           []string{"member", "organization"},
		BusinessConcepts: []string{"overeligibility", "active_status"},
		QueryType:        TypeComplexAggregate,
	},
	{
		ID:           "example_verified_members",
		NaturalQuery: "How many members have verified their eligibility at ACME Corp?",
		SQL: `SELECT COUNT(DISTINCT m.id) AS verified_count
FROM eligibility.member m
JOIN eligibility.organization o ON m.organization_id = o.id
JOIN eligibility.member_verification mv ON m.id = mv.member_id
JOIN eligibility.verification v ON mv.verification_id = v.id
WHERE o.name ILIKE '%ACME%'
AND m.effective_range @> CURRENT_DATE
AND v.verified_at IS NOT NULL
AND (v.deactivated_at IS NULL OR v.deactivated_at > CURRENT_DATE)`,
		Explanation:      "This query counts members who have active verifications at ACME Corp. It joins the member, organization, member_verification, and verification tables to find records where verification has been completed and remains active.",
		Tables:           []string{"member", "organization", "member_verification", "verification"},
		BusinessConcepts: []string{"verification_status", "active_verification"},
		QueryType:        TypeCountAggregate,
	},
	{
		ID:           "example_verification_attempts",
		NaturalQuery: "Show the verification success rate by organization",
		SQL: `SELECT
    o.name AS organization_name,
    COUNT(va.id) AS total_attempts,
    SUM(CASE WHEN va.successful_verification THEN 1 ELSE 0 END) AS successful_attempts,
    ROUND(100.0 * SUM(CASE WHEN va.successful_verification THEN 1 ELSE 0 END) / COUNT(va.id), 2) AS success_rate
FROM eligibility.verification_attempt va
JOIN eligibility.verification v ON va.verification_id = v.id
JOIN eligibility.organization o ON va.organization_id = o.id
GROUP BY o.id, o.name
ORDER BY success_rate DESC`,
		Explanation:      "This query calculates the verification success rate for each organization by dividing the number of successful verification attempts by the total number of attempts, then multiplying by 100 to get a percentage.",
		Tables:           []string{"verification_attempt", "verification", "organization"},
		BusinessConcepts: []string{"verification_success_rate", "organization_comparison"},
		QueryType:        TypeAnalyticalPercentage,
	},
	{
		ID:           "example_member_by_dob_email",
		NaturalQuery: "Find a member with email john.doe@example.com and date of birth January 1, 1980",
		SQL: `SELECT * FROM eligibility.member m
WHERE m.email = 'john.doe@example.com'
AND m.date_of_birth = '1980-01-01'
AND m.effective_range @> CURRENT_DATE`,
		Explanation:      "This query finds active members with the specified email address and date of birth. This pattern is often used as a primary verification method for identifying members.",
		Tables:           []string{"member"},
		BusinessConcepts: []string{"member_identification", "active_status"},
		QueryType:        TypeDirectLookup,
	},
	{
		ID:           "example_emails_partial_org_match",
		NaturalQuery: "Find emails from Stark Industries",
		SQL: `SELECT email
FROM eligibility.member m
JOIN eligibility.organization o ON m.organization_id = o.id
WHERE o.name ILIKE '%stark%'`,
		Explanation:      "This query retrieves email addresses for members belonging to any organization with 'Stark' in the name. Note that we use just the key distinctive part of the organization name for broader matching.",
		Tables:           []string{"member", "organization"},
		BusinessConcepts: []string{"organization_filtering", "partial_name_matching"},
		QueryType:        TypeRetrieval,
	},
}

// Seed embeds every curated example and upserts it into the query_examples
// collection. Safe to run repeatedly; entries are keyed on their stable ids.
// Returns the number of examples stored.
func Seed(ctx context.Context, embedder embeddings.Provider, vectors querystore.VectorStore) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ex := range Curated {
		g.Go(func() error {
			// The explanation is part of the embedded text so that questions
			// phrased in business terms still land near the right example.
			vec, err := embedder.Embed(gctx, ex.NaturalQuery+" "+ex.Explanation)
			if err != nil {
				return fmt.Errorf("examples: embed %q: %w", ex.ID, err)
			}
			return vectors.Upsert(gctx, querystore.CollectionQueryExamples, ex.ID, vec, map[string]any{
				"natural_query":     ex.NaturalQuery,
				"generated_sql":     ex.SQL,
				"explanation":       ex.Explanation,
				"tables":            ex.Tables,
				"business_concepts": ex.BusinessConcepts,
				"query_type":        ex.QueryType,
				"is_example":        true,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	slog.Info("seeded example queries", "count", len(Curated))
	return len(Curated), nil
}
