package app

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/journal"
	"github.com/ggonzalez94/stratsync/internal/server"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newActivityCommand() *cobra.Command {
	root := &cobra.Command{Use: "activity", Short: "Inspect the execution activity journal"}

	var strategyID, resultType string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded execution results, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := s.ensureJournal()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			entries, err := j.List(ctx, journal.Filter{StrategyID: strategyID, ResultType: strings.ToLower(resultType), Limit: limit})
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list activity", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entries, nil)
		},
	}
	listCmd.Flags().StringVar(&strategyID, "strategy", "", "Filter by strategy id")
	listCmd.Flags().StringVar(&resultType, "type", "", "Filter by result type (transaction|error)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to return")

	showCmd := &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := s.ensureJournal()
			if err != nil {
				return err
			}
			entry, err := j.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entry, nil)
		},
	}

	root.AddCommand(listCmd)
	root.AddCommand(showCmd)
	return root
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	var readOnly bool
	var walletChain string
	var signerFlags signerArgs
	var spender string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the strategy catalog and one execution session over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := s.ensureRegistry()
			if err != nil {
				return err
			}
			deps := server.Deps{Registry: reg, Logger: s.logger}
			var recorder execution.Recorder
			if s.settings.JournalEnabled {
				j, err := s.ensureJournal()
				if err != nil {
					return err
				}
				deps.Activity = j
				recorder = j
			}

			if !readOnly {
				chainID, err := parseChainFlag("--wallet-chain", walletChain)
				if err != nil {
					return err
				}
				txSigner, err := s.newSigner(signerFlags)
				if err != nil {
					return err
				}
				gwOpts, err := s.gatewayOptions(cmd, signerFlags, chainID)
				if err != nil {
					return err
				}
				opts, err := s.orchestratorOptions(actionArgs{spender: spender}, nil)
				if err != nil {
					return err
				}
				opts.Recorder = recorder
				wallet := execution.NewStaticWallet(txSigner.Address(), chainID)
				deps.Orchestrator = execution.New(s.runner.newGateway(txSigner, gwOpts), wallet, opts)
			}

			addr := strings.TrimSpace(listen)
			if addr == "" {
				addr = s.settings.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := server.New(deps).ListenAndServe(ctx, addr); err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "serve http", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Serve catalog and activity without a signing wallet")
	cmd.Flags().StringVar(&walletChain, "wallet-chain", "base-sepolia", "Chain the wallet starts on")
	cmd.Flags().StringVar(&spender, "spender", "", "Approval spender policy (destination|source)")
	signerFlags.bind(cmd)
	return cmd
}
