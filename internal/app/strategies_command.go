package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/model"
	"github.com/ggonzalez94/stratsync/internal/positions"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newStrategiesCommand() *cobra.Command {
	root := &cobra.Command{Use: "strategies", Short: "Strategy catalog commands"}

	var category string
	var includeInactive bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := s.ensureRegistry()
			if err != nil {
				return err
			}
			category = strings.ToLower(strings.TrimSpace(category))
			items := make([]registry.Strategy, 0)
			for _, st := range reg.Strategies() {
				if !st.IsActive && !includeInactive {
					continue
				}
				if category != "" && string(st.Category) != category {
					continue
				}
				items = append(items, st)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	listCmd.Flags().StringVar(&category, "category", "", "Filter by category (lending|liquidity|yield|staking)")
	listCmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "Include inactive strategies")

	showCmd := &cobra.Command{
		Use:   "show <strategy-id>",
		Short: "Show one strategy with its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.lookupStrategy(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), st, nil)
		},
	}

	chainsCmd := &cobra.Command{
		Use:   "chains <strategy-id>",
		Short: "List active deployments of a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.lookupStrategy(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), registry.AvailableDeployments(st), nil)
		},
	}

	var positionsChain string
	positionsCmd := &cobra.Command{
		Use:   "positions <strategy-id>",
		Short: "Show the caller's position in a strategy on one chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.lookupStrategy(args[0])
			if err != nil {
				return err
			}
			chainID, err := parseChainFlag("--chain", positionsChain)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			var reader positions.Reader = positions.StubReader{}
			data, err := reader.UserPositions(ctx, st, chainID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	positionsCmd.Flags().StringVar(&positionsChain, "chain", "", "Deployment chain (id, eip155:<id> or name)")
	_ = positionsCmd.MarkFlagRequired("chain")

	root.AddCommand(listCmd)
	root.AddCommand(showCmd)
	root.AddCommand(chainsCmd)
	root.AddCommand(positionsCmd)
	return root
}

func (s *runtimeState) lookupStrategy(id string) (registry.Strategy, error) {
	reg, err := s.ensureRegistry()
	if err != nil {
		return registry.Strategy{}, err
	}
	st, ok := reg.Strategy(id)
	if !ok {
		return registry.Strategy{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("strategy not found: %s", id))
	}
	return st, nil
}

func (s *runtimeState) lookupAction(strategyID string, actionID uint64) (registry.Strategy, registry.StrategyAction, error) {
	reg, err := s.ensureRegistry()
	if err != nil {
		return registry.Strategy{}, registry.StrategyAction{}, err
	}
	st, action, ok := reg.Action(strategyID, actionID)
	if !ok {
		return registry.Strategy{}, registry.StrategyAction{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("action not found: %s/%d", strategyID, actionID))
	}
	return st, action, nil
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain metadata and cross-chain selectors"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List chains with known metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), registry.Chains(), nil)
		},
	}

	selectorCmd := &cobra.Command{
		Use:   "selector [chain]",
		Short: "Resolve the cross-chain selector for one or all known chains",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				chainID, err := parseChainFlag("chain", args[0])
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), selectorInfo(chainID), nil)
			}
			items := make([]model.SelectorInfo, 0)
			for _, c := range registry.Chains() {
				items = append(items, selectorInfo(c.ID))
			}
			sort.SliceStable(items, func(i, j int) bool { return items[i].ChainID < items[j].ChainID })
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}

	root.AddCommand(listCmd)
	root.AddCommand(selectorCmd)
	return root
}

func selectorInfo(chainID int64) model.SelectorInfo {
	selector := registry.ResolveCrossChainID(chainID)
	info := model.SelectorInfo{
		ChainID:      chainID,
		CrossChainID: selector,
		Mapped:       registry.IsMappedCrossChainID(selector),
	}
	if meta, ok := registry.ChainMetadata(chainID); ok {
		info.ChainName = meta.Name
	}
	if url, ok := registry.DefaultRPCURL(chainID); ok {
		info.DefaultRPCURL = url
	}
	return info
}
