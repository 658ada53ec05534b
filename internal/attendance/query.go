package attendance

import (
	"iter"
	"strings"
)

// Predicate selects records.
type Predicate func(Record) bool

// MatchQuery matches a case-insensitive substring of Name or Roll. An empty
// query matches everything.
func MatchQuery(query string) Predicate {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return func(Record) bool { return true }
	}
	return func(r Record) bool {
		return strings.Contains(strings.ToLower(r.Name), q) ||
			strings.Contains(strings.ToLower(r.Roll), q)
	}
}

// MatchStatus matches the stored status exactly. StatusAll matches everything.
func MatchStatus(status Status) Predicate {
	if status == StatusAll || status == "" {
		return func(Record) bool { return true }
	}
	return func(r Record) bool { return r.Status == status }
}

// And combines predicates.
func And(preds ...Predicate) Predicate {
	return func(r Record) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Filter yields the records of seq accepted by keep.
func Filter(seq iter.Seq[Record], keep Predicate) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for r := range seq {
			if keep(r) && !yield(r) {
				return
			}
		}
	}
}

// All yields the committed records. Every iteration reads a fresh snapshot.
func (s *Store) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range s.Snapshot() {
			if !yield(r) {
				return
			}
		}
	}
}

// Search yields records whose name or roll contains query, ignoring case.
func (s *Store) Search(query string) iter.Seq[Record] {
	return Filter(s.All(), MatchQuery(query))
}

// FilterByStatus yields records with the given status, or all of them for StatusAll.
func (s *Store) FilterByStatus(status Status) iter.Seq[Record] {
	return Filter(s.All(), MatchStatus(status))
}

// Query applies Search and FilterByStatus together.
func (s *Store) Query(query string, status Status) iter.Seq[Record] {
	return Filter(s.All(), And(MatchQuery(query), MatchStatus(status)))
}

// Summary holds status counts. Records with any other status only count in Total.
type Summary struct {
	Present int `json:"presentCount"`
	Absent  int `json:"absentCount"`
	Late    int `json:"lateCount"`
	Total   int `json:"total"`
}

// PresentRate is the share of Present records in percent.
func (s Summary) PresentRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Present) / float64(s.Total) * 100
}

func (s *Summary) add(r Record) {
	s.Total++
	switch r.Status {
	case StatusPresent:
		s.Present++
	case StatusAbsent:
		s.Absent++
	case StatusLate:
		s.Late++
	}
}

// Summarize counts the records of seq.
func Summarize(seq iter.Seq[Record]) Summary {
	var sum Summary
	for r := range seq {
		sum.add(r)
	}
	return sum
}

// Aggregate recomputes the counts over the committed cache.
func (s *Store) Aggregate() Summary {
	return Summarize(s.All())
}

// ClassSummary is a Summary for one class, in first-seen order.
type ClassSummary struct {
	Class string `json:"class"`
	Summary
	Rate float64 `json:"presentRate"`
}

// SummarizeByClass groups records by StudentClass.
func SummarizeByClass(seq iter.Seq[Record]) []ClassSummary {
	var out []ClassSummary
	pos := make(map[string]int)
	for r := range seq {
		i, ok := pos[r.StudentClass]
		if !ok {
			i = len(out)
			pos[r.StudentClass] = i
			out = append(out, ClassSummary{Class: r.StudentClass})
		}
		out[i].add(r)
	}
	for i := range out {
		out[i].Rate = out[i].PresentRate()
	}
	return out
}

// AggregateByClass groups the committed cache by class.
func (s *Store) AggregateByClass() []ClassSummary {
	return SummarizeByClass(s.All())
}
