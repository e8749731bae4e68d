package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"navwatch/internal/service"
)

// RunOnce executes a single monitoring cycle and prints the report.
func (a *App) RunOnce(ctx context.Context) error {
	deps, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	cycle := a.newCycle(deps, nil)
	svc := service.New(service.Options{LockKey: a.Config.Scheduler.AdvisoryLockKey}, nil, cycle, a.Watcher.Thresholds, deps.locker(), a.Logger)

	report, err := svc.RunOnce(ctx)
	if err != nil {
		return err
	}
	printReport(a.Out, report)
	return nil
}

func printReport(out io.Writer, report service.Report) {
	if len(report.Results) == 0 {
		fmt.Fprintln(out, "no instruments processed")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Code\tName\tMarket\tNAV\tPremium%\tDiscount%\tStatus\tOutcome\tState")
	for _, res := range report.Results {
		q := res.Quote
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			q.Instrument.ID,
			q.Instrument.Name,
			formatNull(q.MarketPrice.Valid, q.MarketPrice.Decimal.StringFixed(3)),
			formatNull(q.ReferenceValue.Valid, q.ReferenceValue.Decimal.StringFixed(4)),
			formatNull(res.Rate.Premium.Valid, res.Rate.Premium.Decimal.StringFixed(2)),
			formatNull(res.Rate.Discount.Valid, res.Rate.Discount.Decimal.StringFixed(2)),
			res.Status,
			res.Outcome,
			sanitizeInline(q.State),
		)
	}
	writer.Flush()

	fmt.Fprintf(out, "\n%d instruments, %d alerts, %d notified, %d suppressed, %d delivery failed, %d no data\n",
		len(report.Results), report.Alerts(),
		report.Count(service.OutcomeNotified),
		report.Count(service.OutcomeSuppressed),
		report.Count(service.OutcomeDeliveryFailed),
		report.Count(service.OutcomeNoData))
}

func formatNull(valid bool, v string) string {
	if !valid {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
