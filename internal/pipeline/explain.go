package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/askdb/pkg/gateway"
)

// explainSampleRows is how many leading rows are shown to the model.
const explainSampleRows = 5

var (
	fromPattern = regexp.MustCompile(`(?i)FROM\s+([a-zA-Z0-9_.]+)`)
	joinPattern = regexp.MustCompile(`(?i)JOIN\s+([a-zA-Z0-9_.]+)`)
)

// explainStage produces the natural-language explanation of the results.
// Empty result sets get a deterministic templated explanation without any
// model call. A cached explanation, when present and accepted by the
// caller, short-circuits the stage.
type explainStage struct {
	gw gateway.Gateway
}

func (s *explainStage) Run(ctx context.Context, pc *Context) {
	if pc.Explanation != "" && !pc.SkipCachedExplanation {
		return
	}

	pc.StartStage("explanation_generation")
	defer pc.CompleteStage("explanation_generation")

	if pc.Results == nil || !pc.Results.HasResults {
		pc.Explanation = emptyResultsExplanation(pc.SQL)
		return
	}

	sample := pc.Results.Results
	if len(sample) > explainSampleRows {
		sample = sample[:explainSampleRows]
	}

	explanation, err := s.gw.Explain(ctx, gateway.ExplainRequest{
		Query:         pc.OriginalQuery,
		SQL:           pc.SQL,
		SampleRows:    sample,
		RowCount:      pc.Results.RowCount,
		TablesUsed:    tablesFromSQL(pc.SQL),
		BusinessRules: detectBusinessRules(pc.SQL),
	})
	if err != nil {
		pc.AddError("explanation_generation", "gateway", err)
		explanation = fmt.Sprintf("The query returned %d rows matching your request.", pc.Results.RowCount)
	}
	pc.Explanation = explanation
}

// emptyResultsExplanation names the searched tables and any business rules
// the SQL applied, so a zero-row answer is still meaningful.
func emptyResultsExplanation(sql string) string {
	var b strings.Builder
	b.WriteString("Your query did not return any results. This means no data matches your search criteria. ")
	if tables := tablesFromSQL(sql); len(tables) > 0 {
		fmt.Fprintf(&b, "The query looked for data in the following tables: %s. ", strings.Join(tables, ", "))
	}
	if rules := detectBusinessRules(sql); len(rules) > 0 {
		fmt.Fprintf(&b, "The query also applied business rules for: %s. ", strings.Join(rules, ", "))
	}
	b.WriteString("You might want to try broadening your search criteria or check if you're using the correct names and identifiers.")
	return b.String()
}

// tablesFromSQL extracts the table names referenced in FROM and JOIN
// clauses, deduplicated in order of first appearance.
func tablesFromSQL(sql string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, pattern := range []*regexp.Regexp{fromPattern, joinPattern} {
		for _, m := range pattern.FindAllStringSubmatch(sql, -1) {
			name := strings.TrimSpace(m[1])
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// detectBusinessRules labels the domain idioms present in the SQL text.
func detectBusinessRules(sql string) []string {
	var rules []string
	if strings.Contains(sql, "effective_range @> CURRENT_DATE") {
		rules = append(rules, "active member status")
	}
	if strings.Contains(sql, "COUNT(DISTINCT organization_id) > 1") ||
		strings.Contains(sql, "COUNT(DISTINCT m.organization_id) > 1") {
		rules = append(rules, "overeligibility")
	}
	return rules
}
