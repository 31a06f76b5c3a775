package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/stratsync/internal/codec"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/execution/evm"
	execsigner "github.com/ggonzalez94/stratsync/internal/execution/signer"
	"github.com/ggonzalez94/stratsync/internal/model"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/spf13/cobra"
)

type actionArgs struct {
	actionRef
	fromChain string
	toChain   string
	token     string
	amount    string
	spender   string
	gasLimit  uint64
}

func (a *actionArgs) bind(cmd *cobra.Command) {
	a.actionRef.bind(cmd)
	cmd.Flags().StringVar(&a.fromChain, "from-chain", "", "Source chain the wallet is connected to (defaults to --to-chain)")
	cmd.Flags().StringVar(&a.toChain, "to-chain", "", "Destination chain where the strategy executes (id, eip155:<id> or name)")
	cmd.Flags().StringVar(&a.token, "token", "", "Token to transfer (defaults to the action's token parameter)")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Token amount in decimal units (defaults to the action's amount parameter)")
	cmd.Flags().StringVar(&a.spender, "spender", "", "Approval spender policy (destination|source)")
	cmd.Flags().Uint64Var(&a.gasLimit, "gas-limit", 0, "Gas limit for the cross-chain call")
	_ = cmd.MarkFlagRequired("to-chain")
}

type signerArgs struct {
	keySource          string
	privateKey         string
	rpcURL             string
	pollInterval       string
	stepTimeout        string
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
	wait               bool
	simulate           bool
}

func (a *signerArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.keySource, "key-source", "", "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&a.privateKey, "private-key", "", "Hex private key (prefer "+execsigner.EnvPrivateKey+")")
	cmd.Flags().StringVar(&a.rpcURL, "rpc-url", "", "RPC URL override for the source chain")
	cmd.Flags().StringVar(&a.pollInterval, "poll-interval", "2s", "Receipt polling interval")
	cmd.Flags().StringVar(&a.stepTimeout, "step-timeout", "2m", "Per-transaction receipt timeout")
	cmd.Flags().Float64Var(&a.gasMultiplier, "gas-multiplier", 1.2, "Gas estimate safety multiplier")
	cmd.Flags().StringVar(&a.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&a.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().BoolVar(&a.wait, "wait", false, "Wait for each transaction receipt")
	cmd.Flags().BoolVar(&a.simulate, "simulate", true, "Run eth_call preflight before broadcasting")
}

func (s *runtimeState) newSigner(args signerArgs) (execsigner.Signer, error) {
	source := args.keySource
	if strings.TrimSpace(source) == "" {
		source = s.settings.KeySource
	}
	txSigner, err := execsigner.NewLocalSignerFromInputs(source, args.privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	return txSigner, nil
}

func (s *runtimeState) gatewayOptions(cmd *cobra.Command, args signerArgs, sourceChain int64) (evm.Options, error) {
	opts := evm.DefaultOptions()
	opts.Logger = s.logger
	opts.RPCURLs = map[int64]string{}
	for chainID, url := range s.settings.RPCURLs {
		opts.RPCURLs[chainID] = url
	}
	if strings.TrimSpace(args.rpcURL) != "" {
		opts.RPCURLs[sourceChain] = strings.TrimSpace(args.rpcURL)
	}
	opts.WaitForReceipt = s.settings.WaitForReceipt
	if cmd.Flags().Changed("wait") {
		opts.WaitForReceipt = args.wait
	}
	opts.Simulate = s.settings.Simulate
	if cmd.Flags().Changed("simulate") {
		opts.Simulate = args.simulate
	}
	poll, err := time.ParseDuration(args.pollInterval)
	if err != nil || poll <= 0 {
		return evm.Options{}, clierr.New(clierr.CodeUsage, "--poll-interval must be a positive duration")
	}
	step, err := time.ParseDuration(args.stepTimeout)
	if err != nil || step <= 0 {
		return evm.Options{}, clierr.New(clierr.CodeUsage, "--step-timeout must be a positive duration")
	}
	if args.gasMultiplier <= 1 {
		return evm.Options{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	opts.PollInterval = poll
	opts.StepTimeout = step
	opts.GasMultiplier = args.gasMultiplier
	opts.MaxFeeGwei = args.maxFeeGwei
	opts.MaxPriorityFeeGwei = args.maxPriorityFeeGwei
	return opts, nil
}

func (s *runtimeState) orchestratorOptions(args actionArgs, notifier execution.Notifier) (execution.Options, error) {
	policyName := args.spender
	if strings.TrimSpace(policyName) == "" {
		policyName = s.settings.SpenderPolicy
	}
	spender, err := execution.ParseSpenderPolicy(policyName)
	if err != nil {
		return execution.Options{}, clierr.Wrap(clierr.CodeUsage, "parse --spender", err)
	}
	gasLimit := s.settings.GasLimit
	if args.gasLimit > 0 {
		gasLimit = args.gasLimit
	}
	return execution.Options{
		Notifier: notifier,
		Logger:   s.logger,
		Spender:  spender,
		GasLimit: gasLimit,
		Now:      s.runner.now,
	}, nil
}

// prepare loads the action, seeds the session with the parameter flags and
// fills token and amount from the action's own parameters when not given.
func (s *runtimeState) prepare(o *execution.Orchestrator, args actionArgs, destination int64) (registry.Strategy, registry.StrategyAction, string, string, error) {
	st, action, err := s.lookupAction(args.strategyID, args.actionID)
	if err != nil {
		return registry.Strategy{}, registry.StrategyAction{}, "", "", err
	}
	inputs, err := parseParams(action, args.params)
	if err != nil {
		return registry.Strategy{}, registry.StrategyAction{}, "", "", err
	}
	key := execution.KeyOf(st, action)
	for name, v := range inputs {
		o.HandleInputChange(key, name, v)
	}
	o.SetSelectedChain(destination)

	token, amt := strings.TrimSpace(args.token), strings.TrimSpace(args.amount)
	if action.RequiresToken {
		if token == "" {
			token = inputText(action, inputs, "token", registry.ParamAddress)
		}
		if amt == "" {
			amt = inputText(action, inputs, "amount", registry.ParamUint256)
		}
	}
	return st, action, token, amt, nil
}

func inputText(action registry.StrategyAction, inputs codec.Inputs, name string, typ registry.ParamType) string {
	for _, p := range action.Parameters {
		if p.Name == name && p.Type == typ {
			text := strings.TrimSpace(inputs[name].Text())
			if text == codec.SenderSentinel {
				return ""
			}
			return text
		}
	}
	return ""
}

// chains resolves the source and destination chain ids of args.
func (a actionArgs) chains() (int64, int64, error) {
	to, err := parseChainFlag("--to-chain", a.toChain)
	if err != nil {
		return 0, 0, err
	}
	if strings.TrimSpace(a.fromChain) == "" {
		return to, to, nil
	}
	from, err := parseChainFlag("--from-chain", a.fromChain)
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func parseChainFlag(name, value string) (int64, error) {
	id, err := registry.ParseChainID(value)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUsage, "parse "+name, err)
	}
	return id, nil
}

// collectingNotifier keeps the notifications of one invocation for output
// and forwards them to the log.
type collectingNotifier struct {
	mu    sync.Mutex
	next  execution.Notifier
	items []execution.Notification
}

func (n *collectingNotifier) Notify(msg execution.Notification) {
	n.mu.Lock()
	n.items = append(n.items, msg)
	n.mu.Unlock()
	n.next.Notify(msg)
}

func (n *collectingNotifier) last() *execution.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.items) == 0 {
		return nil
	}
	msg := n.items[len(n.items)-1]
	return &msg
}

type runOutput struct {
	State        execution.ActionState   `json:"state"`
	Notification *execution.Notification `json:"notification,omitempty"`
}

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Plan and execute strategy actions"}

	var plan actionArgs
	var planFrom string
	var planSigner signerArgs
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve and encode an action without submitting it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, destination, err := plan.chains()
			if err != nil {
				return err
			}
			from := strings.TrimSpace(planFrom)
			if from == "" {
				txSigner, err := s.newSigner(planSigner)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "resolve sender (pass --from or configure a key)", err)
				}
				from = txSigner.Address().Hex()
			}
			if !common.IsHexAddress(from) {
				return clierr.New(clierr.CodeUsage, "--from must be a valid address")
			}
			opts, err := s.orchestratorOptions(plan, nil)
			if err != nil {
				return err
			}
			wallet := execution.NewStaticWallet(common.HexToAddress(from), source)
			o := execution.New(nil, wallet, opts)
			st, action, token, amt, err := s.prepare(o, plan, destination)
			s.lastWallet = walletStatus(o)
			if err != nil {
				return err
			}
			result, err := o.Plan(st, action, token, amt)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, nil)
		},
	}
	plan.bind(planCmd)
	planCmd.Flags().StringVar(&planFrom, "from", "", "Sender address (defaults to the configured signer)")
	planCmd.Flags().StringVar(&planSigner.keySource, "key-source", "", "Key source used when --from is empty")

	var run actionArgs
	var runSigner signerArgs
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Approve if needed and dispatch an action across chains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, destination, err := run.chains()
			if err != nil {
				return err
			}
			txSigner, err := s.newSigner(runSigner)
			if err != nil {
				return err
			}
			gwOpts, err := s.gatewayOptions(cmd, runSigner, source)
			if err != nil {
				return err
			}
			notifier := &collectingNotifier{next: execution.LogNotifier{Logger: s.logger}}
			opts, err := s.orchestratorOptions(run, notifier)
			if err != nil {
				return err
			}
			if s.settings.JournalEnabled {
				j, err := s.ensureJournal()
				if err != nil {
					return err
				}
				opts.Recorder = j
			}
			wallet := execution.NewStaticWallet(txSigner.Address(), source)
			o := execution.New(s.runner.newGateway(txSigner, gwOpts), wallet, opts)
			st, action, token, amt, err := s.prepare(o, run, destination)
			s.lastWallet = walletStatus(o)
			if err != nil {
				return err
			}

			timeout := s.settings.Timeout
			if action.RequiresApproval {
				timeout += gwOpts.StepTimeout
			}
			if gwOpts.WaitForReceipt {
				timeout += 2 * gwOpts.StepTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := o.ExecuteAction(ctx, st, action, token, amt); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), runOutput{
				State:        o.Snapshot(execution.KeyOf(st, action)),
				Notification: notifier.last(),
			}, nil)
		},
	}
	run.bind(runCmd)
	runSigner.bind(runCmd)

	root.AddCommand(planCmd)
	root.AddCommand(runCmd)
	return root
}

func walletStatus(o *execution.Orchestrator) *model.WalletStatus {
	return &model.WalletStatus{
		Address:       o.Wallet().Address().Hex(),
		ChainID:       o.Wallet().ChainID(),
		SelectedChain: o.Session().SelectedChain(),
	}
}
