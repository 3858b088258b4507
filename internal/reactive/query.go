package reactive

import (
	"strings"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/target"
)

// Query is one entry of a one-shot request as sent by the dashboard.
// "select" and "statement" are older spellings of "query" and "text".
type Query struct {
	RefID     string `json:"refId"`
	Operation string `json:"operation,omitempty"`
	Target    string `json:"target"`
	Name      string `json:"name,omitempty"`
	Text      string `json:"text,omitempty"`
	Statement string `json:"statement,omitempty"`
}

// Resolve validates q and builds its target.
func (q Query) Resolve() (target.Target, error) {
	if op := strings.ToLower(q.Operation); op != "" && op != "tail" {
		return target.Target{}, apperr.Newf(apperr.InvalidTarget, "unknown operation %q", q.Operation)
	}
	switch strings.ToLower(strings.TrimSpace(q.Target)) {
	case "":
		return target.Target{}, apperr.New(apperr.MissingTarget, "query has no target")
	case "relation":
		return target.NewRelation(q.Name)
	case "query", "select":
		text := q.Text
		if text == "" {
			text = q.Statement
		}
		return target.NewQuery(text)
	default:
		return target.Target{}, apperr.Newf(apperr.InvalidTarget, "unknown target %q", q.Target)
	}
}

// QueryError attributes a failure to the query that caused it.
type QueryError struct {
	RefID string
	Err   error
}

func (e *QueryError) Error() string {
	return "Error querying backend for " + e.RefID + ": " + e.Err.Error()
}

func (e *QueryError) Unwrap() error { return e.Err }

// Result is the outcome of one Query. Exactly one of Frame and Err is set.
type Result struct {
	RefID string
	Frame *frame.Frame
	Err   error
}
