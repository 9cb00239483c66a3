package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"momentumwatch/internal/alert"
	"momentumwatch/internal/pipeline"
	"momentumwatch/internal/recorder"
	"momentumwatch/pkg/model"
)

func outputTable(out *pipeline.Outcome) {
	if out.Scan == nil {
		return
	}

	fmt.Printf("Momentum run %s for %s: %s\n\n", out.RunID, out.AsOf.Format("2006-01-02"), out.State)

	printCandidates(alert.TitleExit, out.Buckets.Exit, true)
	printCandidates(alert.TitleWatch, out.Buckets.Watch, false)

	if len(out.Buckets.Unevaluated) > 0 {
		fmt.Printf("%s (%d):\n", alert.TitleUnevaluated, len(out.Buckets.Unevaluated))
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Symbol", "Held", "Reason"}),
		)
		for _, u := range out.Buckets.Unevaluated {
			table.Append([]string{u.Symbol.String(), yesNo(u.Held), u.Reason})
		}
		table.Render()
		fmt.Println()
	}

	if len(out.Scan.Skipped) > 0 {
		fmt.Printf("Skipped %d illiquid symbols\n", len(out.Scan.Skipped))
	}
	fmt.Printf("Screened %d symbols, %d evaluated, in %s\n",
		out.Scan.TotalScanned, len(out.Scan.Results), out.Scan.ScanTime.Round(time.Second))

	switch {
	case out.Delivered:
		fmt.Printf("Alert sent to %d recipient(s)\n", len(out.Message.Recipients))
	case out.Message != nil && out.State == pipeline.StateDone:
		fmt.Printf("Dry run, alert not sent.\n\nSubject: %s\n\n%s\n", out.Message.Subject, out.Message.Text)
	}
}

func printCandidates(title string, cands []model.Candidate, showQty bool) {
	if len(cands) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", title, len(cands))

	last := "Avg Volume"
	if showQty {
		last = "Quantity"
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Change", "First", "Last", "MA20", last}),
	)
	for _, c := range cands {
		r := c.Result
		extra := humanize.Comma(int64(r.AvgVolume))
		if showQty {
			extra = humanize.Commaf(c.Quantity)
		}
		trend := string(r.MA20Trend)
		if trend == "" {
			trend = "-"
		}
		table.Append([]string{
			r.Symbol.String(),
			alert.Percent(r.PctChange),
			alert.Price(r.FirstClose),
			alert.Price(r.LastClose),
			trend,
			extra,
		})
	}
	table.Render()
	fmt.Println()
}

type jsonOutcome struct {
	RunID        string            `json:"run_id"`
	AsOf         string            `json:"as_of"`
	State        pipeline.State    `json:"state"`
	ExitCode     int               `json:"exit_code"`
	Error        string            `json:"error,omitempty"`
	Buckets      model.Buckets     `json:"buckets"`
	Scan         *model.ScanResult `json:"scan,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Delivered    bool              `json:"delivered"`
	FallbackPath string            `json:"fallback_path,omitempty"`
}

func outputJSON(out *pipeline.Outcome) error {
	res := jsonOutcome{
		RunID:        out.RunID,
		AsOf:         out.AsOf.Format("2006-01-02"),
		State:        out.State,
		ExitCode:     out.ExitCode,
		Buckets:      out.Buckets,
		Scan:         out.Scan,
		Delivered:    out.Delivered,
		FallbackPath: out.FallbackPath,
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if out.Message != nil {
		res.Subject = out.Message.Subject
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(res)
}

func outputHistory(runs []recorder.RunRecord) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Started", "Run", "As Of", "State", "Exit", "Watch", "Unevaluated", "Sent", "Duration"}),
	)
	for _, r := range runs {
		table.Append([]string{
			humanize.Time(r.StartedAt),
			shortRunID(r.ID),
			r.AsOf.Format("2006-01-02"),
			r.State,
			fmt.Sprintf("%d", r.Exit),
			fmt.Sprintf("%d", r.Watch),
			fmt.Sprintf("%d", r.Unevaluated),
			yesNo(r.Delivered),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
		})
	}
	table.Render()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
