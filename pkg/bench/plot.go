// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bench

import (
	"fmt"
	"os"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// newEpochPlot creates a line plot with points of one value per epoch.
func newEpochPlot(title, yLabel string, values []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())
	xys := make(plotter.XYs, len(values))
	for epoch, v := range values {
		xys[epoch].X = float64(epoch)
		xys[epoch].Y = v
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, errors.Wrapf(err, "plotting %q", title)
	}
	p.Add(line, points)
	return p, nil
}

// PlotPNG saves a PNG image with two side-by-side plots: the mean loss and the duration of each epoch.
func (r *Result) PlotPNG(filePath string) error {
	if len(r.EpochTimes) == 0 {
		return errors.New("result has no epochs to plot")
	}
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	lossPlot, err := newEpochPlot(fmt.Sprintf("Training loss (%s)", r.Flavor.DisplayName()), "loss", r.EpochLosses)
	if err != nil {
		return err
	}
	seconds := make([]float64, len(r.EpochTimes))
	for ii, elapsed := range r.EpochTimes {
		seconds[ii] = elapsed.Seconds()
	}
	timePlot, err := newEpochPlot("Epoch time", "seconds", seconds)
	if err != nil {
		return err
	}

	img := vgimg.New(12*vg.Inch, 5*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Millimeter, PadBottom: vg.Millimeter, PadLeft: vg.Millimeter, PadRight: vg.Millimeter}
	plots := [][]*plot.Plot{{lossPlot, timePlot}}
	canvases := plot.Align(plots, tiles, dc)
	for col, p := range plots[0] {
		p.Draw(canvases[0][col])
	}

	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating plot file %q", filePath)
	}
	if _, err = (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing plot to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing plot file %q", filePath)
}
