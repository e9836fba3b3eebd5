// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bench

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Result of a benchmark run.
type Result struct {
	// RunID uniquely identifies the run in CSV exports.
	RunID   string
	Flavor  Flavor
	Backend string

	NumExamples, BatchSize, StepsPerEpoch, NumParameters int

	// PrepareTime is the time spent reading the data and building the trainer.
	PrepareTime time.Duration

	// EpochTimes and EpochLosses (mean training loss over the steps) per epoch.
	EpochTimes  []time.Duration
	EpochLosses []float64
}

// MedianEpochTime returns the element at index len/2 of the sorted epoch times: for an even
// number of epochs that is the upper of the two middle values. It returns 0 if there are no epochs.
func (r *Result) MedianEpochTime() time.Duration {
	if len(r.EpochTimes) == 0 {
		return 0
	}
	sorted := slices.Clone(r.EpochTimes)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// WriteTo writes the results in the plain-text format:
//
//	unit: 1 epoch
//	<mean loss of epoch 0>
//	...
//	run time: <preparation seconds> <median epoch seconds>
//
// It implements io.WriterTo.
func (r *Result) WriteTo(w io.Writer) (n int64, err error) {
	var sb strings.Builder
	sb.WriteString("unit: 1 epoch\n")
	for _, loss := range r.EpochLosses {
		sb.WriteString(strconv.FormatFloat(loss, 'g', -1, 64))
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "run time: %s %s\n", formatSeconds(r.PrepareTime), formatSeconds(r.MedianEpochTime()))
	written, err := io.WriteString(w, sb.String())
	return int64(written), err
}

// WriteFile creates (or truncates) filePath with the results in the plain-text format, see WriteTo.
// A "~" prefix in filePath is replaced by the user home directory.
func (r *Result) WriteFile(filePath string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating results file %q", filePath)
	}
	if _, err = r.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing results to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing results file %q", filePath)
}

// epochRow is one line of the CSV export.
type epochRow struct {
	RunID         string  `dataframe:"run_id"`
	Flavor        string  `dataframe:"flavor"`
	Backend       string  `dataframe:"backend"`
	Epoch         int     `dataframe:"epoch"`
	Loss          float64 `dataframe:"loss"`
	EpochSeconds  float64 `dataframe:"epoch_seconds"`
	PrepSeconds   float64 `dataframe:"prepare_seconds"`
	StepsPerEpoch int     `dataframe:"steps_per_epoch"`
	BatchSize     int     `dataframe:"batch_size"`
}

// DataFrame returns the per-epoch measurements as a dataframe, one row per epoch.
func (r *Result) DataFrame() (dataframe.DataFrame, error) {
	if len(r.EpochLosses) != len(r.EpochTimes) {
		return dataframe.DataFrame{}, errors.Errorf("result has %d epoch losses but %d epoch times",
			len(r.EpochLosses), len(r.EpochTimes))
	}
	if len(r.EpochTimes) == 0 {
		return dataframe.DataFrame{}, errors.New("result has no epochs")
	}
	rows := make([]epochRow, len(r.EpochTimes))
	for epoch := range rows {
		rows[epoch] = epochRow{
			RunID:         r.RunID,
			Flavor:        string(r.Flavor),
			Backend:       r.Backend,
			Epoch:         epoch,
			Loss:          r.EpochLosses[epoch],
			EpochSeconds:  r.EpochTimes[epoch].Seconds(),
			PrepSeconds:   r.PrepareTime.Seconds(),
			StepsPerEpoch: r.StepsPerEpoch,
			BatchSize:     r.BatchSize,
		}
	}
	df := dataframe.LoadStructs(rows)
	if df.Err != nil {
		return df, errors.Wrap(df.Err, "building results dataframe")
	}
	return df, nil
}

// WriteCSV writes the per-epoch measurements as CSV, with a header line.
func (r *Result) WriteCSV(w io.Writer) error {
	df, err := r.DataFrame()
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err = df.WriteCSV(bw); err != nil {
		return errors.Wrap(err, "writing results CSV")
	}
	return errors.WithStack(bw.Flush())
}

var (
	reportTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	reportHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	reportCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	reportKeyStyle    = lipgloss.NewStyle().Faint(true)
)

// Report renders a human-readable summary of the run for the terminal.
func (r *Result) Report() string {
	var sb strings.Builder
	sb.WriteString(reportTitleStyle.Render(fmt.Sprintf("SqueezeNet on CIFAR-10: %s", r.Flavor.DisplayName())))
	sb.WriteByte('\n')
	kv := func(key, value string) {
		sb.WriteString(reportKeyStyle.Render(key + ":"))
		sb.WriteString(" " + value + "\n")
	}
	kv("run", r.RunID)
	kv("backend", r.Backend)
	kv("parameters", humanize.Comma(int64(r.NumParameters)))
	kv("examples", fmt.Sprintf("%s in %s steps of %d", humanize.Comma(int64(r.NumExamples)),
		humanize.Comma(int64(r.StepsPerEpoch)), r.BatchSize))

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("epoch", "loss", "time").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return reportHeaderStyle
			}
			return reportCellStyle
		})
	for epoch, elapsed := range r.EpochTimes {
		loss := "-"
		if epoch < len(r.EpochLosses) {
			loss = fmt.Sprintf("%.4f", r.EpochLosses[epoch])
		}
		tbl.Row(strconv.Itoa(epoch), loss, elapsed.Round(time.Millisecond).String())
	}
	sb.WriteString(tbl.Render())
	sb.WriteByte('\n')
	kv("preparation", r.PrepareTime.Round(time.Millisecond).String())
	kv("median epoch", r.MedianEpochTime().Round(time.Millisecond).String())
	return sb.String()
}
