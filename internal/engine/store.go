package engine

import (
	"context"

	"kiwoomapp/internal/types"
)

// Store persists the watchlist, per-account modes, position snapshots and
// the day-scoped engine state.
type Store interface {
	LoadWatchlist(ctx context.Context) ([]types.WatchItem, error)
	SaveWatchlist(ctx context.Context, items []types.WatchItem) error
	LoadAccountModes(ctx context.Context) (map[string]types.AccountMode, error)
	SaveAccountModes(ctx context.Context, modes map[string]types.AccountMode) error
	SaveHoldings(ctx context.Context, account string, holdings []types.Holding) error
	LoadState(ctx context.Context) (*StateRecord, error)
	SaveState(ctx context.Context, rec StateRecord) error
}
