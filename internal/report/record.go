// Package report accumulates per-target capability records across the run and
// renders the consolidated report.
package report

import "time"

// Status is the per-target outcome of the run
type Status string

const (
	// StatusNotUpdated marks a target whose outcome was never determined
	StatusNotUpdated Status = "Not updated"

	// StatusUnsupported marks a target excluded by the version gate
	StatusUnsupported Status = "N/A"

	// StatusUnrestricted marks a target where heterogeneous-hardware
	// clusters were located and the update path is unrestricted
	StatusUnrestricted Status = "Unrestricted"

	// StatusRestricted marks a target where no heterogeneous-hardware
	// clusters were located
	StatusRestricted Status = "Restricted"

	// StatusFailed marks a target whose operation did not complete
	StatusFailed Status = "Failed"
)

// Record is one target's row of the final report
type Record struct {
	Target  string `yaml:"vcenter"`
	Status  Status `yaml:"status"`
	Message string `yaml:"message"`
}

// Aggregator accumulates records in discovery order, at most one per target
// identity. Mutated only by the orchestrating goroutine; there is no
// concurrent access in this design.
type Aggregator struct {
	order     []string
	records   map[string]*Record
	startTime time.Time
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		records:   make(map[string]*Record),
		startTime: time.Now(),
	}
}

// Upsert updates the record for the target identity if one exists, else
// appends it. Records are never duplicated per target.
func (a *Aggregator) Upsert(rec Record) {
	if existing, ok := a.records[rec.Target]; ok {
		existing.Status = rec.Status
		existing.Message = rec.Message
		return
	}

	a.order = append(a.order, rec.Target)
	a.records[rec.Target] = &rec
}

// Records returns the records in discovery order
func (a *Aggregator) Records() []Record {
	out := make([]Record, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, *a.records[name])
	}
	return out
}

// Len returns the number of records
func (a *Aggregator) Len() int {
	return len(a.order)
}

// Summary holds the consolidated run counters
type Summary struct {
	Total        int
	Unrestricted int
	Restricted   int
	Unsupported  int
	NotUpdated   int
	Failed       int
	Duration     time.Duration
}

// Summarize counts records per status
func (a *Aggregator) Summarize() Summary {
	s := Summary{
		Total:    len(a.order),
		Duration: time.Since(a.startTime),
	}
	for _, name := range a.order {
		switch a.records[name].Status {
		case StatusUnrestricted:
			s.Unrestricted++
		case StatusRestricted:
			s.Restricted++
		case StatusUnsupported:
			s.Unsupported++
		case StatusNotUpdated:
			s.NotUpdated++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
