package app

import (
	"context"
	"fmt"
)

// Alerts prints the most recent journal entries, newest first.
func (a *App) Alerts(ctx context.Context, limit int) error {
	deps, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	entries, err := deps.reader.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("read alert journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no alerts recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(a.Out, e.Line())
	}
	return nil
}
