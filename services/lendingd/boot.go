package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/observability"
	"moneymarket/services/lendingd/config"
	"moneymarket/services/lendingd/genesis"
	"moneymarket/storage"
)

var genesisTimeKey = []byte("lendingd/genesis_time")

func openStore(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		return storage.NewLevelDB(cfg.Path)
	case config.BackendBolt:
		return storage.NewBoltDB(cfg.Path, nil)
	case config.BackendMemory, "":
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// genesisTime returns the persisted chain start, recording now on first boot
// so block heights keep increasing across restarts.
func genesisTime(db storage.Database, now time.Time) (time.Time, error) {
	raw, err := db.Get(genesisTimeKey)
	switch {
	case err == nil:
		return time.Parse(time.RFC3339Nano, string(raw))
	case errors.Is(err, storage.ErrNotFound):
		if err := db.Put(genesisTimeKey, []byte(now.UTC().Format(time.RFC3339Nano))); err != nil {
			return time.Time{}, fmt.Errorf("record genesis time: %w", err)
		}
		return now.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("read genesis time: %w", err)
	}
}

type runtime struct {
	ledger *lending.Ledger
	oracle *lending.SimplePriceOracle
	lender *flashloan.Lender
}

// boot builds the ledger over db and seeds it from the genesis document, or
// restores models and prices when the store was seeded before.
func boot(db storage.Database, doc genesis.Genesis, clock lending.BlockClock, logger *slog.Logger) (*runtime, error) {
	oracle := lending.NewSimplePriceOracle()
	ledger := lending.NewLedger(db, clock, lending.WithLogger(logger), lending.WithOracle(oracle))
	lender, err := doc.Lender()
	if err != nil {
		return nil, err
	}
	err = doc.Apply(ledger, oracle, lender, logger)
	switch {
	case err == nil:
	case errors.Is(err, genesis.ErrAlreadyInitialized):
		if err := doc.Restore(ledger, oracle); err != nil {
			return nil, fmt.Errorf("restore ledger: %w", err)
		}
		logger.Info("ledger restored from store", slog.Uint64("block", ledger.BlockNumber()))
	default:
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	return &runtime{ledger: ledger, oracle: oracle, lender: lender}, nil
}

// reportMarkets publishes market gauges every interval until ctx ends.
func reportMarkets(ctx context.Context, ledger *lending.Ledger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := recordMarkets(ledger); err != nil {
			logger.Warn("market gauges not updated", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordMarkets(ledger *lending.Ledger) error {
	metrics := observability.Lending()
	return ledger.View(func(tx *lending.Tx) error {
		markets, err := tx.Comptroller().Markets()
		if err != nil {
			return err
		}
		for _, addr := range markets {
			m, err := tx.Market(addr)
			if err != nil {
				return err
			}
			if err := m.AccrueInterest(); err != nil {
				return err
			}
			state, err := m.Snapshot()
			if err != nil {
				return err
			}
			cash, err := m.Cash()
			if err != nil {
				return err
			}
			metrics.RecordMarket(state.Symbol, state.Decimals, cash.ToBig(), state.TotalBorrows.ToBig())
		}
		return nil
	})
}
