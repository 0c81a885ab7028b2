package vecindex

// Filter is a metadata filter in the index service's query grammar.
// Supported shapes:
//
//	{"field": "value"}                          exact match
//	{"field": {"$in": [v1, v2]}}                membership
//	{"$or": [f1, f2, ...]}                      disjunction
//
// Filters compose: a top-level map with multiple fields is an implicit
// conjunction.
type Filter map[string]any

// Eq matches records whose metadata field equals value.
func Eq(field string, value any) Filter {
	return Filter{field: value}
}

// In matches records whose metadata field is any of values.
func In(field string, values ...any) Filter {
	return Filter{field: map[string]any{"$in": values}}
}

// Or matches records satisfying any of the given filters. Nil and empty
// filters are dropped; a single survivor is returned unwrapped.
func Or(filters ...Filter) Filter {
	var clauses []any
	for _, f := range filters {
		if len(f) == 0 {
			continue
		}
		clauses = append(clauses, map[string]any(f))
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return Filter(clauses[0].(map[string]any))
	default:
		return Filter{"$or": clauses}
	}
}

// And merges filters into one conjunction. Later filters win on key
// collision.
func And(filters ...Filter) Filter {
	merged := Filter{}
	for _, f := range filters {
		for k, v := range f {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// JurisdictionFilter builds the retrieval filter for a jurisdiction
// chain: a disjunction of equality clauses, one per entry. A single
// entry collapses to a bare equality.
func JurisdictionFilter(jurisdictions []string) Filter {
	clauses := make([]Filter, len(jurisdictions))
	for i, j := range jurisdictions {
		clauses[i] = Eq("jurisdiction", j)
	}
	return Or(clauses...)
}
