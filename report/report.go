// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package report renders the human-readable report of a benchmark run.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rdkcmf/waymetric/bench"
	"github.com/rdkcmf/waymetric/lifecycle"
)

const rule = "-----------------------------------------------------------------\n"

// Write writes the report of a benchmark run to w.
func Write(w io.Writer, rep *bench.Report) error {
	var buf bytes.Buffer
	cfg := rep.Config
	fmt.Fprintf(&buf, "waymetric run %s\n", rep.RunID)
	fmt.Fprintf(&buf, "started %s, elapsed %v\n", rep.Start.Format("2006-01-02 15:04:05"), rep.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&buf, "display %dx%d, window %v, %d iterations per step\n",
		rep.Display[0], rep.Display[1], cfg.Window, cfg.Iterations)
	buf.WriteString(rule)

	for _, o := range rep.Outcomes {
		fmt.Fprintf(&buf, "\nMeasuring %v path...\n", o.Path)
		switch {
		case o.Skipped:
			buf.WriteString("skipped\n")
		case o.Err != nil:
			fmt.Fprintf(&buf, "FAILED: %v\n", o.Err)
		case len(o.Result.Steps) == 0:
			fmt.Fprintf(&buf, "Total time (us): %d\n", o.Result.Micros())
		default:
			writeSteps(&buf, o)
		}
		buf.WriteString(rule)
	}

	buf.WriteString("\n")
	writeSummary(&buf, rep)
	if si, ok := rep.SpeedIndex(bench.Protocol); ok {
		buf.WriteString("\n=================================================================\n")
		fmt.Fprintf(&buf, "waymetric speed index: %f\n", si)
		buf.WriteString("=================================================================\n")
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeSteps(buf *bytes.Buffer, o bench.Outcome) {
	table := tablewriter.NewWriter(buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Step", "Pacing (us)", "Iterations", "Total time (us)", "FPS"})
	for i, s := range o.Result.Steps {
		table.Append([]string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(s.Delay.Microseconds(), 10),
			strconv.Itoa(s.Iterations),
			strconv.FormatInt(s.Total.Microseconds(), 10),
			fmt.Sprintf("%.2f", s.FPS()),
		})
	}
	table.SetFooter([]string{"", "", "", "TOTAL", strconv.FormatInt(o.Result.Micros(), 10)})
	table.Render()
}

func writeSummary(buf *bytes.Buffer, rep *bench.Report) {
	table := tablewriter.NewWriter(buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Path", "Status", "Total time (us)", "Speed index"})
	for _, o := range rep.Outcomes {
		status, total, index := "ok", strconv.FormatInt(o.Result.Micros(), 10), "-"
		if o.Skipped {
			status, total = "skipped", "-"
		} else if !o.OK() {
			status, total = "failed", "0"
		}
		if si, ok := rep.SpeedIndex(o.Path); ok {
			index = fmt.Sprintf("%f", si)
		}
		table.Append([]string{o.Path.String(), status, total, index})
	}
	table.Render()
}

// WriteFile writes the report of a benchmark run to the file at path.
func WriteFile(path string, rep *bench.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	werr := Write(f, rep)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// WriteLifecycle writes the outcome of a lifecycle run to w.
func WriteLifecycle(w io.Writer, rep lifecycle.Report) error {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Worker", "Instance", "Context", "Bind", "Destroy", "Error"})
	for _, r := range rep.Records {
		var msg string
		if r.Err != nil {
			msg = r.Err.Error()
		}
		table.Append([]string{
			strconv.Itoa(r.Worker), r.Name,
			mark(r.Context), mark(r.Bound), mark(r.Destroyed), msg,
		})
	}
	table.SetFooter([]string{"", "", "", "", "PASSED", fmt.Sprintf("%d of %d", rep.Successes, len(rep.Records))})
	table.Render()
	_, err := w.Write(buf.Bytes())
	return err
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "-"
}
