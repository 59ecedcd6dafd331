package executor

import (
	"encoding/json"

	"github.com/weavegql/weave/internal/dynamic"
)

// GraphQLError is a located execution error.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExecutionResult is the outcome of executing a GraphQL operation. Data keeps
// the query's field order when marshalled.
type ExecutionResult struct {
	Data   *dynamic.Record
	Errors []GraphQLError
}

func (r *ExecutionResult) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	if r.Data != nil {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		out["data"] = data
	} else {
		out["data"] = json.RawMessage("null")
	}
	if len(r.Errors) > 0 {
		errs, err := json.Marshal(r.Errors)
		if err != nil {
			return nil, err
		}
		out["errors"] = errs
	}
	return json.Marshal(out)
}
