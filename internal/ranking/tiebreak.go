package ranking

import (
	"sort"

	"github.com/scoutly/scoutly/internal/query"
)

// ApplyTieBreaks re-sorts an already score-ordered slice by a deterministic
// composite key. Score stays the primary key; among equal scores, persons
// with a stated preferred salary sort first when the query carries an offer
// threshold, and persons with a fully-dated overlapping record sort first
// when the query carries a time window. The sort is stable, so equal keys
// keep their incoming order.
func ApplyTieBreaks(ranked []Ranked, q *query.Normalized) {
	if q == nil {
		return
	}
	useSalary := q.HasSalary()
	useOverlap := q.HasTimeWindow()
	if !useSalary && !useOverlap {
		return
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if useSalary && ranked[i].SalaryStated != ranked[j].SalaryStated {
			return ranked[i].SalaryStated
		}
		if useOverlap && ranked[i].FullOverlap != ranked[j].FullOverlap {
			return ranked[i].FullOverlap
		}
		return false
	})
}
