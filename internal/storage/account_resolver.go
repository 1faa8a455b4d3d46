package storage

import (
	"context"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// AccountResolver adapts Store to internal/execution.AccountResolver,
// the lookup internal/execution.LiveRunner needs at the start of each
// TradingTask run: the broker account it trades against, and the
// strategy type/parameters its strategy config names.
type AccountResolver struct {
	store Store
}

func NewAccountResolver(store Store) *AccountResolver {
	return &AccountResolver{store: store}
}

func (r *AccountResolver) BrokerAccount(ctx context.Context, id string) (types.BrokerAccount, error) {
	return r.store.GetBrokerAccount(ctx, id)
}

func (r *AccountResolver) StrategyType(ctx context.Context, configID string) (string, map[string]interface{}, error) {
	cfg, err := r.store.GetStrategyConfig(ctx, configID)
	if err != nil {
		return "", nil, err
	}
	return cfg.StrategyType, cfg.Parameters, nil
}
