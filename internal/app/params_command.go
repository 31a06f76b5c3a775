package app

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/stratsync/internal/codec"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/model"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/spf13/cobra"
)

type actionRef struct {
	strategyID string
	actionID   uint64
	params     []string
}

func (r *actionRef) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.strategyID, "strategy", "", "Strategy identifier")
	cmd.Flags().Uint64Var(&r.actionID, "action", 0, "Action identifier within the strategy")
	cmd.Flags().StringArrayVar(&r.params, "param", nil, "Action parameter as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("action")
}

// parseParams maps repeated name=value flags onto the action's declared
// parameters. Unknown names are rejected so typos do not encode as empty.
func parseParams(action registry.StrategyAction, raw []string) (codec.Inputs, error) {
	declared := make(map[string]registry.ActionParameter, len(action.Parameters))
	for _, p := range action.Parameters {
		declared[p.Name] = p
	}
	inputs := codec.Inputs{}
	for _, item := range raw {
		name, value, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid --param %q (expected name=value)", item))
		}
		p, known := declared[name]
		if !known {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("action %q has no parameter %q", action.Name, name))
		}
		inputs[name] = codec.ParseValue(p.Type, strings.TrimSpace(value))
	}
	return inputs, nil
}

func (s *runtimeState) newParamsCommand() *cobra.Command {
	root := &cobra.Command{Use: "params", Short: "Validate and ABI-encode action parameters"}

	var validateRef actionRef
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check each parameter value against its declaration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, action, err := s.lookupAction(validateRef.strategyID, validateRef.actionID)
			if err != nil {
				return err
			}
			inputs, err := parseParams(action, validateRef.params)
			if err != nil {
				return err
			}
			checks := make([]model.ParamCheck, 0, len(action.Parameters))
			var warnings []string
			for _, p := range action.Parameters {
				v := inputs[p.Name]
				res := codec.Validate(p, v)
				checks = append(checks, model.ParamCheck{
					Name:  p.Name,
					Type:  string(p.Type),
					Value: v,
					Valid: res.Valid,
					Error: res.Error,
				})
				if !res.Valid {
					warnings = append(warnings, fmt.Sprintf("%s: %s", p.Name, res.Error))
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), checks, warnings)
		},
	}
	validateRef.bind(validateCmd)

	var encodeRef actionRef
	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "ABI-encode parameters in declared order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, action, err := s.lookupAction(encodeRef.strategyID, encodeRef.actionID)
			if err != nil {
				return err
			}
			inputs, err := parseParams(action, encodeRef.params)
			if err != nil {
				return err
			}
			if err := codec.ValidateAll(action, inputs); err != nil {
				return err
			}
			data, err := codec.Encode(action, inputs)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.EncodedParams{
				StrategyID: st.ID,
				ActionID:   action.ID,
				Types:      action.Types(),
				Data:       hexutil.Encode(data),
			}, nil)
		},
	}
	encodeRef.bind(encodeCmd)

	var decodeRef actionRef
	var payload string
	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode an ABI payload back into named parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, action, err := s.lookupAction(decodeRef.strategyID, decodeRef.actionID)
			if err != nil {
				return err
			}
			data, err := hexutil.Decode(strings.TrimSpace(payload))
			if err != nil {
				return clierr.Wrap(clierr.CodeDecoding, "parse --data", err)
			}
			inputs, err := codec.Decode(action, data)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), inputs, nil)
		},
	}
	decodeCmd.Flags().StringVar(&decodeRef.strategyID, "strategy", "", "Strategy identifier")
	decodeCmd.Flags().Uint64Var(&decodeRef.actionID, "action", 0, "Action identifier within the strategy")
	decodeCmd.Flags().StringVar(&payload, "data", "", "0x-prefixed ABI payload")
	_ = decodeCmd.MarkFlagRequired("strategy")
	_ = decodeCmd.MarkFlagRequired("action")
	_ = decodeCmd.MarkFlagRequired("data")

	root.AddCommand(validateCmd)
	root.AddCommand(encodeCmd)
	root.AddCommand(decodeCmd)
	return root
}
