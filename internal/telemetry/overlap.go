package telemetry

import "time"

// Span is the closed time range covered by a sample set.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether the span covers no samples.
func (s Span) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}

// Overlap describes how the two telemetry sources line up in time.
type Overlap struct {
	GPU      Span `json:"gpu"`
	CPU      Span `json:"cpu"`
	Overlaps bool `json:"overlaps"`
}

// GPUSpan returns the range of accelerator timestamps.
func GPUSpan(samples []GPUSample) Span {
	var span Span
	for i, s := range samples {
		span = extend(span, s.Timestamp, i == 0)
	}
	return span
}

// CPUSpan returns the range of CPU sample timestamps.
func CPUSpan(samples []CPUSample) Span {
	var span Span
	for i, s := range samples {
		span = extend(span, s.Timestamp, i == 0)
	}
	return span
}

func extend(span Span, ts time.Time, first bool) Span {
	if first {
		return Span{Start: ts, End: ts}
	}
	if ts.Before(span.Start) {
		span.Start = ts
	}
	if ts.After(span.End) {
		span.End = ts
	}
	return span
}

// CheckOverlap compares the sample ranges. The CPU log carries no date of
// its own, so a wrong reference date shows up as disjoint ranges.
func CheckOverlap(gpu []GPUSample, cpu []CPUSample) Overlap {
	o := Overlap{GPU: GPUSpan(gpu), CPU: CPUSpan(cpu)}
	if len(gpu) == 0 || len(cpu) == 0 {
		return o
	}
	o.Overlaps = !o.GPU.End.Before(o.CPU.Start) && !o.CPU.End.Before(o.GPU.Start)
	return o
}
