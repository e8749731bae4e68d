package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"navwatch/internal/fetcher"
	"navwatch/internal/journal"
	"navwatch/internal/ledger"
	"navwatch/internal/service"
)

// SimulateOptions describe the instrument pushed through a simulated cycle.
type SimulateOptions struct {
	ID        string
	Name      string
	Market    decimal.Decimal
	Reference decimal.Decimal
	State     string
}

// SimulateAlert runs one instrument with the given market price and reference
// value through the full detect-notify path.
// It uses a fresh in-memory ledger so the real daily state is untouched.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	if opts.ID == "" {
		opts.ID = "000000"
	}
	if opts.Name == "" {
		opts.Name = "模拟基金"
	}

	rec := a.simulationJournal()
	defer rec.close()

	src := fetcher.NewStatic(opts.ID, opts.Name, opts.Market, opts.Reference, opts.State)
	led := ledger.New(ledger.Options{}, nil, zerolog.Nop())
	cycle := a.newCycleWith(src, a.newNotifier(), led, rec.recorder, nil)

	report, err := cycle.Run(ctx, a.Watcher.Thresholds())
	if err != nil {
		return err
	}
	printReport(a.Out, report)

	if n := report.Count(service.OutcomeDeliveryFailed); n > 0 {
		return fmt.Errorf("simulated alert delivery failed: %w", report.Results[0].Err)
	}
	if report.Alerts() == 0 {
		fmt.Fprintln(a.Out, "thresholds not reached; no alert sent")
	}
	return nil
}

type simJournal struct {
	recorder journal.Recorder
	close    func()
}

func (a *App) simulationJournal() simJournal {
	file := journal.NewFile(journal.FileOptions{Path: a.Config.Journal.Path}, a.Logger)
	return simJournal{
		recorder: journal.Fanout{file, journal.NewLogRecorder(a.Logger)},
		close:    func() { _ = file.Close() },
	}
}
