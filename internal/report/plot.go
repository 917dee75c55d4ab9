package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/skobkin/fecbench/internal/telemetry"
)

// HistogramBins is the bin count of the utilization histograms.
const HistogramBins = 20

var (
	cpuColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	gpuColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// PlotThroughputVsIter draws mean CPU and GPU throughput against the
// iteration count, labelling each GPU point with its mean speedup.
func PlotThroughputVsIter(aggs []IterAggregate, path string) error {
	p := plot.New()
	p.Title.Text = "Decode throughput vs iterations"
	p.X.Label.Text = "Decoder iterations (num_iter)"
	p.Y.Label.Text = "Throughput [Mbit/s]"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	var cpuXY, gpuXY plotter.XYs
	var labels plotter.XYLabels
	for _, a := range aggs {
		x := float64(a.NumIter)
		if finite(a.CPUThroughputMbps) {
			cpuXY = append(cpuXY, plotter.XY{X: x, Y: a.CPUThroughputMbps})
		}
		if finite(a.GPUThroughputMbps) {
			gpuXY = append(gpuXY, plotter.XY{X: x, Y: a.GPUThroughputMbps})
			if finite(a.Speedup) {
				labels.XYs = append(labels.XYs, plotter.XY{X: x, Y: a.GPUThroughputMbps})
				labels.Labels = append(labels.Labels, fmt.Sprintf("%.1f×", a.Speedup))
			}
		}
	}

	if err := addSeries(p, "CPU", cpuXY, cpuColor); err != nil {
		return err
	}
	if err := addSeries(p, "GPU", gpuXY, gpuColor); err != nil {
		return err
	}
	if len(labels.XYs) > 0 {
		l, err := plotter.NewLabels(labels)
		if err != nil {
			return fmt.Errorf("speedup labels: %w", err)
		}
		for i := range l.TextStyle {
			l.TextStyle[i].XAlign = draw.XCenter
			l.TextStyle[i].YAlign = draw.YBottom
		}
		p.Add(l)
	}

	return save(path, func(dc draw.Canvas) { p.Draw(dc) }, 6*vg.Inch, 4*vg.Inch)
}

func addSeries(p *plot.Plot, name string, xys plotter.XYs, c color.Color) error {
	if len(xys) == 0 {
		return nil
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return fmt.Errorf("%s series: %w", name, err)
	}
	line.Color = c
	points.Color = c
	points.Shape = draw.CircleGlyph{}
	p.Add(line, points)
	p.Legend.Add(name, line, points)
	return nil
}

// PlotUtilization draws side-by-side histograms of active CPU core usage and
// active GPU utilization.
func PlotUtilization(gpu []telemetry.GPUSample, cpu []telemetry.CPUSample, th Thresholds, path string) error {
	var cores plotter.Values
	for _, s := range th.ActiveCPU(cpu) {
		cores = append(cores, s.Cores)
	}
	var util plotter.Values
	for _, s := range th.ActiveGPU(gpu) {
		util = append(util, s.UtilizationPct)
	}

	cpuPlot, err := histogram("CPU utilization during sweep", "Approx. CPU cores used", cores, cpuColor)
	if err != nil {
		return err
	}
	gpuPlot, err := histogram("GPU utilization during sweep", "GPU utilization [%] (active samples)", util, gpuColor)
	if err != nil {
		return err
	}

	plots := [][]*plot.Plot{{cpuPlot, gpuPlot}}
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter * 4, PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2}
	return save(path, func(dc draw.Canvas) {
		canvases := plot.Align(plots, tiles, dc)
		for j := range plots[0] {
			plots[0][j].Draw(canvases[0][j])
		}
	}, 10*vg.Inch, 4*vg.Inch)
}

func histogram(title, xlabel string, values plotter.Values, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = "Count"
	p.Add(plotter.NewGrid())

	finiteValues := values[:0:0]
	for _, v := range values {
		if finite(v) {
			finiteValues = append(finiteValues, v)
		}
	}
	if len(finiteValues) == 0 {
		p.Title.Text += " (no active samples)"
		return p, nil
	}

	h, err := plotter.NewHist(finiteValues, HistogramBins)
	if err != nil {
		return nil, fmt.Errorf("histogram %q: %w", title, err)
	}
	h.FillColor = c
	p.Add(h)
	return p, nil
}

func save(path string, render func(draw.Canvas), w, h vg.Length) (err error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}

	img := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(150))
	dc := draw.New(img)
	render(dc)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close plot: %w", cerr)
		}
	}()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
