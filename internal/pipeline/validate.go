package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/askdb/pkg/gateway"
)

// blacklistPattern matches write and DDL verbs as whole words, case
// insensitive. Matching any of them fails validation before the model is
// consulted.
var blacklistPattern = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate)\b`)

// validateStage checks generated SQL: a syntactic blacklist first, then a
// semantic judgment by the model. It runs only on a cache miss; cached SQL
// is trusted as pre-validated. A nil return means the SQL passed.
type validateStage struct {
	gw gateway.Gateway
}

func (s *validateStage) Run(ctx context.Context, pc *Context) []Detail {
	pc.StartStage("sql_validation")
	defer pc.CompleteStage("sql_validation")

	if keyword := blacklistPattern.FindString(pc.SQL); keyword != "" {
		return []Detail{{
			Code:       CodeDisallowedOperation,
			Message:    fmt.Sprintf("query contains a disallowed operation: %s", strings.ToUpper(keyword)),
			Location:   keyword,
			Suggestion: "Only read-only SELECT queries are allowed",
		}}
	}

	vr, err := s.gw.Validate(ctx, pc.SQL, pc.SchemaText)
	if err != nil {
		pc.AddError("sql_validation", "gateway", err)
		return []Detail{{
			Code:       CodeValidationError,
			Message:    "SQL validation could not be completed: " + err.Error(),
			Suggestion: "Please try again",
		}}
	}
	if vr.Valid {
		return nil
	}

	details := make([]Detail, 0, len(vr.Issues))
	for _, issue := range vr.Issues {
		if issue.Code == "" {
			issue.Code = CodeValidationError
		}
		details = append(details, issue)
	}
	if len(details) == 0 {
		details = append(details, Detail{
			Code:    CodeValidationError,
			Message: "generated SQL failed validation",
		})
	}
	return details
}
