package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/config"
	"github.com/openkcm/anoncred-broker/internal/historian/historianvalkey"
)

// historyTrimmer bounds a stored event history.
type historyTrimmer interface {
	Trim(ctx context.Context, maxLen int64) error
}

// HousekeeperMain keeps the ValKey event history below its configured length.
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	if cfg.Historian.Sink != config.HistorianSinkValKey {
		return errors.New("housekeeping requires the valkey historian sink")
	}

	client, err := valkeyClientFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the history store: %w", err)
	}
	defer client.Close()

	return runHousekeeper(ctx, historianvalkey.NewSink(client, cfg.ValKey.Prefix), cfg.Housekeeper)
}

func runHousekeeper(ctx context.Context, trimmer historyTrimmer, cfg config.Housekeeper) error {
	c := time.Tick(cfg.TriggerInterval)
	for {
		if err := trimmer.Trim(ctx, cfg.HistoryMaxLen); err != nil {
			slogctx.Error(ctx, "Error during history housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
