package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/gocarina/gocsv"

	"github.com/eddiefleurent/option_width/internal/models"
)

var labelColors = map[models.SignalType]*color.Color{
	models.SignalBest:            color.New(color.FgGreen, color.Bold),
	models.SignalFullySynced:     color.New(color.FgGreen),
	models.SignalSubOptimal:      color.New(color.FgYellow),
	models.SignalPartiallySynced: color.New(color.FgWhite),
}

func label(t models.SignalType) string {
	if c, ok := labelColors[t]; ok {
		return c.Sprint(string(t))
	}
	return string(t)
}

func direction(rising bool) string {
	if rising {
		return "up"
	}
	return "down"
}

// Table renders the top n signals as an aligned text table. Verbose adds the
// per-month sync counts from results.
func Table(
	signals []models.Signal,
	results map[models.InstrumentKey]models.UnderlyingWidthResult,
	n int,
	verbose bool,
) string {
	if n <= 0 || n > len(signals) {
		n = len(signals)
	}
	if n == 0 {
		return "no signals\n"
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	header := "RANK\tEXCHANGE\tUNDERLYING\tSIGNAL\tWIDTH\tTIME\tTARGETS"
	if verbose {
		header += "\tDIR\tSPEC\tNEXT\tOTM\tPRICE"
	}
	fmt.Fprintln(w, header)

	for i, s := range signals[:n] {
		targets := strings.Join(s.Targets, ",")
		if targets == "" {
			targets = "-"
		}
		row := fmt.Sprintf("%d\t%s\t%s\t%s\t%.0f\t%s\t%s",
			i+1, s.Exchange, s.Underlying, label(s.Type), s.Width,
			s.Timestamp.Format(time.TimeOnly), targets)
		if verbose {
			r := results[s.Key()]
			row += fmt.Sprintf("\t%s\t%d/%d\t%d/%d\t%d\t%g",
				direction(s.IsCall),
				r.SpecifiedCount, r.TotalSpecifiedTarget,
				r.NextSpecifiedCount, r.TotalNextSpecifiedTarget,
				r.TotalSpecifiedOTM+r.TotalNextSpecifiedOTM,
				r.CurrentPrice)
		}
		fmt.Fprintln(w, row)
	}
	_ = w.Flush()
	return buf.String()
}

// TopLine is the one-line summary used in trade mode.
func TopLine(signals []models.Signal) string {
	if len(signals) == 0 {
		return "no signal"
	}
	s := signals[0]
	return fmt.Sprintf("%s %s.%s width=%.0f dir=%s targets=%s",
		label(s.Type), s.Exchange, s.Underlying, s.Width, direction(s.IsCall), strings.Join(s.Targets, ","))
}

type csvRow struct {
	Rank       int     `csv:"rank"`
	Exchange   string  `csv:"exchange"`
	Underlying string  `csv:"underlying"`
	Signal     string  `csv:"signal"`
	Width      float64 `csv:"width"`
	Direction  string  `csv:"direction"`
	Timestamp  string  `csv:"timestamp"`
	Targets    string  `csv:"targets"`
}

// CSV renders the ranking as CSV with a header row.
func CSV(signals []models.Signal) ([]byte, error) {
	rows := make([]*csvRow, 0, len(signals))
	for i, s := range signals {
		rows = append(rows, &csvRow{
			Rank:       i + 1,
			Exchange:   s.Exchange,
			Underlying: s.Underlying,
			Signal:     string(s.Type),
			Width:      s.Width,
			Direction:  direction(s.IsCall),
			Timestamp:  s.Timestamp.Format(time.RFC3339),
			Targets:    strings.Join(s.Targets, " "),
		})
	}
	var buf bytes.Buffer
	if err := gocsv.Marshal(&rows, &buf); err != nil {
		return nil, fmt.Errorf("encoding ranking csv: %w", err)
	}
	return buf.Bytes(), nil
}
