package trace

import "math"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalEvents         int
	FirstTime           float64
	LastTime            float64
	EventsByDescription map[string]int
	ProcessesTerminated int
	ProcessesFailed     int
	MeanProcessLifetime float64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		EventsByDescription: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalEvents = len(st.Events)
	if len(st.Events) > 0 {
		summary.FirstTime = st.Events[0].Time
		summary.LastTime = st.Events[len(st.Events)-1].Time
	}
	for _, e := range st.Events {
		summary.EventsByDescription[e.Description]++
	}

	total, n := 0.0, 0
	for _, p := range st.Processes {
		if p.Failed() {
			summary.ProcessesFailed++
		} else {
			summary.ProcessesTerminated++
		}
		if d := p.Terminated - p.Activated; !math.IsNaN(d) {
			total += d
			n++
		}
	}
	if n > 0 {
		summary.MeanProcessLifetime = total / float64(n)
	}

	return summary
}
