package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// EngineMode runs the periodic settlement sweep and intent expiry jobs until
// the context is cancelled. This is the long-running production mode.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "engine mode started")

	if err := deps.Sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: engine mode: %w", err)
	}
	return ctx.Err()
}

// SweepMode runs one synchronous sweep cycle plus one intent expiry pass and
// exits. Operators use it for manual runs and post-incident catch-up.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "sweep mode started")

	expired, err := deps.SwapService.ExpireStaleIntents(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "intent expiry failed", slog.String("error", err.Error()))
	}

	result, err := deps.Sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: sweep mode: %w", err)
	}

	a.logger.InfoContext(ctx, "sweep mode finished",
		slog.Int64("intents_expired", expired),
		slog.Int64("selected", result.Selected),
		slog.Int64("settled", result.Settled),
		slog.Int64("reconciled", result.Reconciled),
		slog.Int64("released", result.Released),
		slog.Int64("retained", result.Retained),
		slog.Int64("skipped", result.Skipped),
		slog.Any("settled_ids", result.SettledIDs),
	)
	return nil
}
