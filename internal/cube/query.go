package cube

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TimeDimension is a time grouping inside a query.
type TimeDimension struct {
	Dimension   string          `json:"dimension"`
	Granularity string          `json:"granularity,omitempty"`
	DateRange   json.RawMessage `json:"dateRange,omitempty"` // string or [start, end]
}

// Filter restricts query results to matching rows.
type Filter struct {
	Member   string   `json:"member"`
	Operator string   `json:"operator"`
	Values   []string `json:"values,omitempty"`
}

// Query is the wire-format payload for the semantic layer's /load endpoint.
// Empty collections are omitted from the JSON body.
type Query struct {
	Measures       []string          `json:"measures,omitempty"`
	Dimensions     []string          `json:"dimensions,omitempty"`
	TimeDimensions []TimeDimension   `json:"timeDimensions,omitempty"`
	Filters        []Filter          `json:"filters,omitempty"`
	Order          map[string]string `json:"order,omitempty"`
	Limit          int               `json:"limit,omitempty"`
}

// QuerySpec is the planner-facing shape of a block query. It carries the same
// information as Query but with snake_case field names as emitted by the
// planning model.
type QuerySpec struct {
	Measures       []string          `json:"measures,omitempty"`
	Dimensions     []string          `json:"dimensions,omitempty"`
	TimeDimensions []TimeDimension   `json:"time_dimensions,omitempty"`
	Filters        []Filter          `json:"filters,omitempty"`
	Order          map[string]string `json:"order,omitempty"`
	Limit          int               `json:"limit,omitempty"`
}

var validOrderDirections = map[string]struct{}{"asc": {}, "desc": {}}

// BuildQuery converts a QuerySpec into a wire Query. It performs structural
// checks only; member names are checked separately against cube metadata.
func BuildQuery(spec QuerySpec) (Query, error) {
	if len(spec.Measures) == 0 && len(spec.Dimensions) == 0 {
		return Query{}, fmt.Errorf("query needs at least one measure or dimension")
	}
	if spec.Limit < 0 {
		return Query{}, fmt.Errorf("limit must not be negative, got %d", spec.Limit)
	}
	for _, f := range spec.Filters {
		if strings.TrimSpace(f.Member) == "" {
			return Query{}, fmt.Errorf("filter is missing a member")
		}
		if strings.TrimSpace(f.Operator) == "" {
			return Query{}, fmt.Errorf("filter on %q is missing an operator", f.Member)
		}
	}
	for _, td := range spec.TimeDimensions {
		if strings.TrimSpace(td.Dimension) == "" {
			return Query{}, fmt.Errorf("time dimension is missing a dimension")
		}
	}
	for key, dir := range spec.Order {
		if _, ok := validOrderDirections[dir]; !ok {
			return Query{}, fmt.Errorf("order on %q must be asc or desc, got %q", key, dir)
		}
	}
	return Query{
		Measures:       spec.Measures,
		Dimensions:     spec.Dimensions,
		TimeDimensions: spec.TimeDimensions,
		Filters:        spec.Filters,
		Order:          spec.Order,
		Limit:          spec.Limit,
	}, nil
}
