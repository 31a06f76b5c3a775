package positions

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

// Reader returns display fields describing the caller's position in a
// strategy on one chain.
type Reader interface {
	UserPositions(ctx context.Context, strategy registry.Strategy, chainID int64) (map[string]string, error)
}

// StubReader serves fixed values per strategy category until on-chain
// position reads exist.
type StubReader struct{}

func (StubReader) UserPositions(ctx context.Context, strategy registry.Strategy, chainID int64) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := strategy.Deployment(chainID); !ok {
		return nil, clierr.New(clierr.CodeResolution, fmt.Sprintf("strategy %s is not available on this chain (%d)", strategy.ID, chainID))
	}
	out := map[string]string{}
	switch strategy.Category {
	case registry.CategoryLending:
		out["supplied"] = "1000.5"
		out["borrowed"] = "250.0"
		out["health_factor"] = "3.2"
		out["collateral_value"] = "1000.5"
		out["borrow_capacity"] = "750.0"
	case registry.CategoryLiquidity:
		out["liquidity"] = "2500.75"
		out["token0_balance"] = "1.25"
		out["token1_balance"] = "2500.0"
		out["fees_earned0"] = "0.05"
		out["fees_earned1"] = "12.34"
		out["position_count"] = "3"
	case registry.CategoryStaking:
		out["staked"] = "500.0"
		out["rewards"] = "25.5"
		out["apr"] = "22.4"
		out["staking_period"] = "30 days"
	}
	return out, nil
}
