package app

import (
	"context"
	"fmt"
	"strings"
)

// LedgerShow prints today's alerted instruments.
func (a *App) LedgerShow(ctx context.Context) error {
	deps, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	snap := deps.ledger.Snapshot()
	fmt.Fprintf(a.Out, "date: %s\nbackend: %s\nalerted (%d): %s\n",
		snap.Date, a.Config.Ledger.Backend, len(snap.Alerted), strings.Join(snap.Alerted, ", "))
	return nil
}

// LedgerReset clears today's alerted set so instruments may alert again.
func (a *App) LedgerReset(ctx context.Context) error {
	deps, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	before := len(deps.ledger.Snapshot().Alerted)
	deps.ledger.Reset(ctx)
	if !deps.ledger.Persistent() && a.Config.Ledger.Backend != "memory" {
		return fmt.Errorf("ledger reset could not be persisted")
	}
	a.Logger.Info().Int("cleared", before).Msg("alert ledger reset")
	fmt.Fprintf(a.Out, "cleared %d instruments\n", before)
	return nil
}
