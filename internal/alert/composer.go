// Package alert turns reconciled buckets into the alert message.
package alert

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"momentumwatch/pkg/model"
)

// Section titles as they appear in the message
const (
	TitleExit        = "Stocks to exit"
	TitleWatch       = "Stocks to watch"
	TitleUnevaluated = "Unevaluated"
)

// Report is everything the composer needs besides the buckets
type Report struct {
	AsOf           time.Time
	LookbackMonths int
	ThresholdPct   float64
	Screened       int
	Skipped        int
}

// Composer builds AlertMessages. The output depends only on its inputs;
// no clock is read, so identical inputs give identical messages.
type Composer struct {
	subjectPrefix string
	recipients    []string
	md            goldmark.Markdown
}

// NewComposer creates a composer for the given recipients
func NewComposer(subjectPrefix string, recipients []string) *Composer {
	return &Composer{
		subjectPrefix: subjectPrefix,
		recipients:    append([]string(nil), recipients...),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
	}
}

// Compose renders the buckets as markdown text plus an HTML alternative.
// Empty sections are left out.
func (c *Composer) Compose(b model.Buckets, r Report) (*model.AlertMessage, error) {
	text := c.Markdown(b, r)

	var buf bytes.Buffer
	if err := c.md.Convert([]byte(text), &buf); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}

	return &model.AlertMessage{
		Subject:    c.Subject(b, r),
		Text:       text,
		HTML:       wrapInEmailTemplate(buf.String()),
		Recipients: append([]string(nil), c.recipients...),
	}, nil
}

// Subject summarises the bucket sizes
func (c *Composer) Subject(b model.Buckets, r Report) string {
	var parts []string
	if n := len(b.Exit); n > 0 {
		parts = append(parts, fmt.Sprintf("%d to exit", n))
	}
	if n := len(b.Watch); n > 0 {
		parts = append(parts, fmt.Sprintf("%d to watch", n))
	}
	if n := len(b.Unevaluated); n > 0 {
		parts = append(parts, fmt.Sprintf("%d unevaluated", n))
	}
	summary := "no changes"
	if len(parts) > 0 {
		summary = strings.Join(parts, ", ")
	}

	prefix := c.subjectPrefix
	if prefix == "" {
		prefix = "Momentum alert"
	}
	return fmt.Sprintf("%s %s: %s", prefix, r.AsOf.Format("2006-01-02"), summary)
}

// Markdown renders the plain-text body
func (c *Composer) Markdown(b model.Buckets, r Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Momentum report for %s\n\n", r.AsOf.Format("2 Jan 2006"))
	fmt.Fprintf(&sb, "%d-month change, threshold %s%%. %d symbols screened",
		r.LookbackMonths, decimal.NewFromFloat(r.ThresholdPct).StringFixed(2), r.Screened)
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped as illiquid", r.Skipped)
	}
	sb.WriteString(".\n")

	if len(b.Exit) == 0 && len(b.Watch) == 0 && len(b.Unevaluated) == 0 {
		sb.WriteString("\nNothing to exit and nothing new to watch.\n")
		return sb.String()
	}

	if len(b.Exit) > 0 {
		fmt.Fprintf(&sb, "\n## %s\n\n", TitleExit)
		sb.WriteString("Held, momentum below threshold.\n\n")
		sb.WriteString("| Symbol | Change | First close | Last close | MA20 | Quantity |\n")
		sb.WriteString("|---|---:|---:|---:|---|---:|\n")
		for _, cand := range b.Exit {
			res := cand.Result
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
				escape(res.Symbol.String()), Percent(res.PctChange), Price(res.FirstClose), Price(res.LastClose),
				trend(res.MA20Trend), quantity(cand.Quantity))
		}
	}

	if len(b.Watch) > 0 {
		fmt.Fprintf(&sb, "\n## %s\n\n", TitleWatch)
		sb.WriteString("Not held, momentum at or above threshold.\n\n")
		sb.WriteString("| Symbol | Change | First close | Last close | MA20 | Avg volume |\n")
		sb.WriteString("|---|---:|---:|---:|---|---:|\n")
		for _, cand := range b.Watch {
			res := cand.Result
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
				escape(res.Symbol.String()), Percent(res.PctChange), Price(res.FirstClose), Price(res.LastClose),
				trend(res.MA20Trend), humanize.Comma(int64(res.AvgVolume)))
		}
	}

	if len(b.Unevaluated) > 0 {
		fmt.Fprintf(&sb, "\n## %s\n\n", TitleUnevaluated)
		sb.WriteString("Momentum could not be computed for these symbols.\n\n")
		for _, u := range b.Unevaluated {
			held := ""
			if u.Held {
				held = " (held)"
			}
			fmt.Fprintf(&sb, "- %s%s: %s\n", escape(u.Symbol.String()), held, u.Reason)
		}
	}

	return sb.String()
}

// Percent formats a change with sign and two decimals
func Percent(pct float64) string {
	d := decimal.NewFromFloat(pct).Round(2)
	s := d.StringFixed(2)
	if d.IsPositive() {
		s = "+" + s
	}
	return s + "%"
}

// Price formats a close with two decimals and thousands separators
func Price(v float64) string {
	return humanize.FormatFloat("#,###.##", decimal.NewFromFloat(v).Round(2).InexactFloat64())
}

func quantity(q float64) string {
	if q == 0 {
		return "-"
	}
	return humanize.Commaf(q)
}

func trend(t model.Trend) string {
	if t == model.TrendUnknown {
		return "-"
	}
	return string(t)
}

var mdEscaper = strings.NewReplacer("|", "\\|", "*", "\\*", "_", "\\_")

func escape(s string) string {
	return mdEscaper.Replace(s)
}

func wrapInEmailTemplate(body string) string {
	return `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8" />
<style>
body { font-family: -apple-system, Segoe UI, Helvetica, Arial, sans-serif; color: #222; line-height: 1.5; }
table { border-collapse: collapse; margin: 8px 0 16px; }
th, td { border: 1px solid #ddd; padding: 4px 10px; }
th { background: #f4f4f4; }
h2 { margin-top: 24px; }
</style>
</head>
<body>
` + body + `</body>
</html>
`
}
