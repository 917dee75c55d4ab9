package report

import (
	"fmt"
	"io"
	"math"
	"time"
)

// WriteSummary prints the human-readable sweep summary. hostCores is the
// number of logical CPUs used as the denominator for core usage; zero hides it.
func WriteSummary(w io.Writer, s Summary, hostCores int) error {
	p := &printer{w: w}

	p.printf("Ledger rows: %d (%d with GPU measurements)\n", s.Rows, s.GPURows)
	for _, it := range s.Iterations {
		p.printf("  num_iter=%-4d rows=%-3d cpu=%s Mbit/s gpu=%s Mbit/s speedup=%s\n",
			it.NumIter, it.Rows, num(it.CPUThroughputMbps, 2), num(it.GPUThroughputMbps, 2), times(it.Speedup))
	}
	p.printf("Average GPU/CPU throughput speedup over all configs: %s\n", times(s.MeanSpeedup))

	cores := num(s.MeanActiveCores, 1)
	if hostCores > 0 {
		cores += fmt.Sprintf(" / %d", hostCores)
	}
	p.printf("Mean cores used by benchmark process (active samples > %.0f%%): %s\n", s.Thresholds.CPUTotalPct, cores)
	p.printf("Mean cores over all %d CPU samples: %s\n", s.CPUSamples, num(s.MeanCores, 1))

	p.printf("GPU active-period stats (%d of %d samples > %.0f%%): mean util=%s%%, mean power=%s W\n",
		s.GPUActiveSamples, s.GPUSamples, s.Thresholds.GPUUtilizationPct,
		num(s.MeanActiveUtilizationPct, 1), num(s.MeanActivePowerW, 2))

	if s.GPUSamples > 0 && s.CPUSamples > 0 && !s.Overlap.Overlaps {
		p.printf("WARNING: GPU samples (%s .. %s) and CPU samples (%s .. %s) do not overlap; check the CPU log date\n",
			s.Overlap.GPU.Start.Format(time.DateTime), s.Overlap.GPU.End.Format(time.DateTime),
			s.Overlap.CPU.Start.Format(time.DateTime), s.Overlap.CPU.End.Format(time.DateTime))
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func num(v float64, prec int) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

func times(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f×", v)
}
