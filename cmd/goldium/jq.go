package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// jqMatcher holds compiled filters that must all evaluate truthy.
type jqMatcher []*gojq.Code

func compileJQ(filters []string) (jqMatcher, error) {
	out := make(jqMatcher, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		out[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return out, nil
}

// Match reports whether every filter is truthy for v. v is round-tripped
// through JSON so filters see the same shape the API returns.
func (m jqMatcher) Match(v interface{}) bool {
	if len(m) == 0 {
		return true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}

	for _, code := range m {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
