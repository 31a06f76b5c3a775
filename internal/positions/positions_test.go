package positions

import (
	"context"
	"testing"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

func strategyWith(category registry.Category) registry.Strategy {
	return registry.Strategy{
		ID:       "s",
		Category: category,
		Chains:   []registry.ChainDeployment{{ChainID: 84532, IsActive: true}},
	}
}

func TestUserPositionsByCategory(t *testing.T) {
	var r Reader = StubReader{}
	cases := map[registry.Category]string{
		registry.CategoryLending:   "health_factor",
		registry.CategoryLiquidity: "position_count",
		registry.CategoryStaking:   "staking_period",
	}
	for category, field := range cases {
		got, err := r.UserPositions(context.Background(), strategyWith(category), 84532)
		if err != nil {
			t.Fatalf("%s: UserPositions failed: %v", category, err)
		}
		if _, ok := got[field]; !ok {
			t.Fatalf("%s: expected field %s, got %v", category, field, got)
		}
	}

	yield, err := r.UserPositions(context.Background(), strategyWith(registry.CategoryYield), 84532)
	if err != nil || len(yield) != 0 {
		t.Fatalf("expected empty yield positions, got %v (%v)", yield, err)
	}
}

func TestUserPositionsUndeployedChain(t *testing.T) {
	_, err := StubReader{}.UserPositions(context.Background(), strategyWith(registry.CategoryLending), 10)
	if !clierr.IsCode(err, clierr.CodeResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
}
