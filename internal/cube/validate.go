package cube

import (
	"fmt"
	"sort"
	"strings"
)

// baseMember strips a granularity suffix from an order key. Order keys may
// look like "cube.field.month"; only the first two dot segments name the
// member.
func baseMember(key string) string {
	if strings.Count(key, ".") >= 2 {
		parts := strings.SplitN(key, ".", 3)
		return parts[0] + "." + parts[1]
	}
	return key
}

// ValidateMembers checks every member name a QuerySpec references against the
// set of known cube members. It returns one human-readable message per
// unknown member, prefixed with label (typically "Block N"). An empty slice
// means the spec only references known members.
func ValidateMembers(spec QuerySpec, valid map[string]struct{}, label string) []string {
	var errs []string
	for _, m := range spec.Measures {
		if _, ok := valid[m]; !ok {
			errs = append(errs, fmt.Sprintf("%s: invalid measure '%s'", label, m))
		}
	}
	for _, d := range spec.Dimensions {
		if _, ok := valid[d]; !ok {
			errs = append(errs, fmt.Sprintf("%s: invalid dimension '%s'", label, d))
		}
	}
	for _, td := range spec.TimeDimensions {
		if td.Dimension == "" {
			continue
		}
		if _, ok := valid[td.Dimension]; !ok {
			errs = append(errs, fmt.Sprintf("%s: invalid time dimension '%s'", label, td.Dimension))
		}
	}
	for _, f := range spec.Filters {
		if f.Member == "" {
			continue
		}
		if _, ok := valid[f.Member]; !ok {
			errs = append(errs, fmt.Sprintf("%s: invalid filter member '%s'", label, f.Member))
		}
	}
	orderKeys := make([]string, 0, len(spec.Order))
	for key := range spec.Order {
		orderKeys = append(orderKeys, key)
	}
	sort.Strings(orderKeys)
	for _, key := range orderKeys {
		if _, ok := valid[baseMember(key)]; !ok {
			errs = append(errs, fmt.Sprintf("%s: invalid order key '%s'", label, key))
		}
	}
	return errs
}
