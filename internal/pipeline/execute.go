package pipeline

import (
	"context"

	"github.com/MrWong99/askdb/internal/sqlexec"
)

// Runner executes SQL and reports the outcome as data.
type Runner interface {
	Execute(ctx context.Context, sql string) sqlexec.Result
}

// executeStage runs the statement currently on the context, cached or
// freshly generated.
type executeStage struct {
	runner Runner
}

func (s *executeStage) Run(ctx context.Context, pc *Context) sqlexec.Result {
	pc.StartStage("sql_execution")
	defer pc.CompleteStage("sql_execution")

	res := s.runner.Execute(ctx, pc.SQL)
	pc.Results = &res
	if !res.Success {
		pc.AddError("sql_execution", "database", errorString(res.Error))
	}
	return res
}

type errorString string

func (e errorString) Error() string { return string(e) }
