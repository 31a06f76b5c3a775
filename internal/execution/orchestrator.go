package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/stratsync/internal/amount"
	"github.com/ggonzalez94/stratsync/internal/codec"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/metrics"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/sirupsen/logrus"
)

// DefaultGasLimit is attached to every crossChainSync submission.
const DefaultGasLimit uint64 = 3_000_000

const approvalFailedMessage = "Token approval failed. Transaction cancelled."

// SpenderPolicy selects which router receives the ERC-20 allowance.
type SpenderPolicy string

const (
	SpenderDestinationRouter SpenderPolicy = "destination"
	SpenderSourceRouter      SpenderPolicy = "source"
)

func ParseSpenderPolicy(v string) (SpenderPolicy, error) {
	switch SpenderPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", SpenderDestinationRouter:
		return SpenderDestinationRouter, nil
	case SpenderSourceRouter:
		return SpenderSourceRouter, nil
	default:
		return "", fmt.Errorf("unsupported spender policy %q (expected destination|source)", v)
	}
}

type Options struct {
	Notifier Notifier
	Recorder Recorder
	Logger   logrus.FieldLogger
	Spender  SpenderPolicy
	GasLimit uint64
	Now      func() time.Time
}

// Orchestrator drives strategy actions from pending inputs to a recorded
// result: validate, resolve, approve, encode, dispatch.
type Orchestrator struct {
	gateway Gateway
	wallet  Wallet
	session *Session
	opts    Options
}

func New(gateway Gateway, wallet Wallet, opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Spender == "" {
		opts.Spender = SpenderDestinationRouter
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = DefaultGasLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{gateway: gateway, wallet: wallet, session: NewSession(), opts: opts}
}

func (o *Orchestrator) Session() *Session { return o.session }

func (o *Orchestrator) Wallet() Wallet { return o.wallet }

func (o *Orchestrator) HandleInputChange(key ActionKey, param string, v codec.Value) {
	o.session.SetInput(key, param, v)
}

func (o *Orchestrator) SetSelectedChain(chainID int64) {
	o.session.SetSelectedChain(chainID)
}

func (o *Orchestrator) Loading() map[ActionKey]bool { return o.session.Loading() }

func (o *Orchestrator) Results() map[ActionKey]FunctionResult { return o.session.Results() }

func (o *Orchestrator) ApprovalStatus() map[ActionKey]ApprovalTransaction {
	return o.session.ApprovalStatus()
}

func (o *Orchestrator) Snapshot(key ActionKey) ActionState { return o.session.Snapshot(key) }

// route is the resolved source and destination of one execution.
type route struct {
	source      registry.ChainDeployment
	destination registry.ChainDeployment
	selector    string
	token       common.Address
	hasToken    bool
	baseAmount  *big.Int
}

// Plan is a fully resolved execution that has not been submitted.
type Plan struct {
	Key                ActionKey            `json:"key"`
	From               string               `json:"from"`
	SourceChainID      int64                `json:"source_chain_id"`
	SourceRouter       string               `json:"source_router"`
	DestinationChainID int64                `json:"destination_chain_id"`
	Approval           *ApprovalTransaction `json:"approval,omitempty"`
	Execution          CrossChainExecution  `json:"execution"`
	Calldata           string               `json:"calldata"`
	GasLimit           uint64               `json:"gas_limit"`
}

// Plan validates, resolves and encodes without any submission or session
// mutation.
func (o *Orchestrator) Plan(strategy registry.Strategy, action registry.StrategyAction, tokenAddress, tokenAmount string) (Plan, error) {
	key := KeyOf(strategy, action)
	inputs := o.session.Inputs(key)
	if err := validate(action, inputs, tokenAddress, tokenAmount); err != nil {
		return Plan{}, err
	}
	rt, err := o.resolve(strategy, tokenAddress, tokenAmount)
	if err != nil {
		return Plan{}, err
	}
	payload, err := codec.Encode(action, inputs)
	if err != nil {
		return Plan{}, err
	}
	exec := buildExecution(rt, action, payload)
	call, err := SyncCall(o.wallet.ChainID(), common.HexToAddress(rt.source.RouterAddress), o.wallet.Address(), exec, o.opts.GasLimit)
	if err != nil {
		return Plan{}, clierr.Wrap(clierr.CodeEncoding, "build crossChainSync call", err)
	}
	calldata, err := call.Data()
	if err != nil {
		return Plan{}, clierr.Wrap(clierr.CodeEncoding, "pack crossChainSync call", err)
	}
	plan := Plan{
		Key:                key,
		From:               o.wallet.Address().Hex(),
		SourceChainID:      rt.source.ChainID,
		SourceRouter:       rt.source.RouterAddress,
		DestinationChainID: rt.destination.ChainID,
		Execution:          exec,
		Calldata:           hexutil.Encode(calldata),
		GasLimit:           o.opts.GasLimit,
	}
	if needsApproval(action, rt) {
		plan.Approval = &ApprovalTransaction{
			TokenAddress:   rt.token.Hex(),
			SpenderAddress: o.spender(rt).Hex(),
			Amount:         rt.baseAmount.String(),
			Status:         ApprovalPending,
		}
	}
	return plan, nil
}

// ExecuteAction runs one execution for the strategy action using the
// pending inputs of its key. Validation, resolution and busy failures are
// only notified; approval, encoding and dispatch failures are also stored
// as the key's error result. The returned error carries the failure code.
func (o *Orchestrator) ExecuteAction(ctx context.Context, strategy registry.Strategy, action registry.StrategyAction, tokenAddress, tokenAmount string) error {
	key := KeyOf(strategy, action)
	inputs := o.session.Inputs(key)

	if err := validate(action, inputs, tokenAddress, tokenAmount); err != nil {
		return o.reject(key, "Validation failed", err)
	}
	rt, err := o.resolve(strategy, tokenAddress, tokenAmount)
	if err != nil {
		title := "Chain not supported"
		if !clierr.IsCode(err, clierr.CodeResolution) {
			title = "Invalid token amount"
		}
		return o.reject(key, title, err)
	}
	if !o.session.begin(key) {
		return o.reject(key, "Action in progress", clierr.New(clierr.CodeBusy, fmt.Sprintf("action %s is already executing", key)))
	}
	defer o.session.finish(key)
	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	rec := Record{
		Key:                key,
		StrategyName:       strategy.Name,
		ActionName:         action.Name,
		SourceChainID:      rt.source.ChainID,
		DestinationChainID: rt.destination.ChainID,
		From:               o.wallet.Address().Hex(),
	}

	var approval *ApprovalTransaction
	if needsApproval(action, rt) {
		tx, err := o.approve(ctx, key, rt)
		if err != nil {
			return o.fail(ctx, rec, "approval", approvalFailedMessage, &tx, clierr.Wrap(clierr.CodeApproval, approvalFailedMessage, err))
		}
		approval = &tx
	}

	payload, err := codec.Encode(action, inputs)
	if err != nil {
		return o.fail(ctx, rec, "encoding", "Failed to encode parameters", approval, err)
	}
	exec := buildExecution(rt, action, payload)
	call, err := SyncCall(o.wallet.ChainID(), common.HexToAddress(rt.source.RouterAddress), o.wallet.Address(), exec, o.opts.GasLimit)
	if err != nil {
		return o.fail(ctx, rec, "encoding", "Failed to build cross-chain call", approval, clierr.Wrap(clierr.CodeEncoding, "build crossChainSync call", err))
	}

	txHash, err := o.submit(ctx, call)
	if err != nil {
		return o.fail(ctx, rec, "dispatch", "Cross-chain execution failed", approval, clierr.Wrap(clierr.CodeDispatch, "submit crossChainSync", err))
	}

	chainName := rt.destination.ChainName
	if meta, ok := registry.ChainMetadata(rt.destination.ChainID); ok {
		chainName = meta.Name
	}
	result := FunctionResult{
		Type:   ResultTransaction,
		TxHash: txHash,
		Data: ExecutionSummary{
			TxHash:           txHash,
			Execution:        exec,
			ChainName:        chainName,
			ActionName:       action.Name,
			ApprovalRequired: action.RequiresApproval,
			TokenTransfer:    action.RequiresToken,
		},
		Timestamp:  o.opts.Now().UTC(),
		ApprovalTx: approval,
	}
	o.session.setResult(key, result)
	o.session.clearInputs(key)
	rec.Result = result
	o.record(ctx, rec)
	metrics.ExecutionsTotal.WithLabelValues(key.StrategyID, "success").Inc()
	o.opts.Notifier.Notify(Notification{
		Key:     key,
		Level:   LevelSuccess,
		Title:   "Transaction submitted",
		Message: fmt.Sprintf("%s sent to %s", action.Name, chainName),
		TxHash:  txHash,
	})
	return nil
}

func validate(action registry.StrategyAction, inputs codec.Inputs, tokenAddress, tokenAmount string) error {
	if err := codec.ValidateAll(action, inputs); err != nil {
		return err
	}
	if strings.TrimSpace(tokenAddress) != "" && !common.IsHexAddress(tokenAddress) {
		return clierr.New(clierr.CodeValidation, "token: Must be a valid Ethereum address")
	}
	if strings.TrimSpace(tokenAmount) != "" {
		if _, err := amount.Parse(tokenAmount); err != nil {
			return clierr.New(clierr.CodeValidation, "token amount: Must be a positive number")
		}
	}
	return nil
}

func (o *Orchestrator) resolve(strategy registry.Strategy, tokenAddress, tokenAmount string) (route, error) {
	sourceChain := o.wallet.ChainID()
	source, ok := strategy.Deployment(sourceChain)
	if !ok {
		return route{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("strategy %s is not available on this chain (%d)", strategy.ID, sourceChain))
	}
	destChain := o.session.SelectedChain()
	if destChain == 0 {
		return route{}, clierr.New(clierr.CodeResolution, "no destination chain selected")
	}
	destination, ok := strategy.Deployment(destChain)
	if !ok {
		return route{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("strategy %s is not available on this chain (%d)", strategy.ID, destChain))
	}
	selector := registry.ResolveCrossChainID(destChain)
	if !registry.IsMappedCrossChainID(selector) {
		metrics.UnmappedSelectorTotal.WithLabelValues(strconv.FormatInt(destChain, 10)).Inc()
		return route{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("chain %d has no cross-chain selector", destChain))
	}

	rt := route{source: source, destination: destination, selector: selector, baseAmount: big.NewInt(0)}
	if strings.TrimSpace(tokenAddress) != "" {
		rt.token = common.HexToAddress(tokenAddress)
		rt.hasToken = true
		if strings.TrimSpace(tokenAmount) != "" {
			base, err := amount.ToBaseUnits(tokenAmount, source.TokenDecimals(tokenAddress))
			if err != nil {
				if clierr.IsCode(err, clierr.CodeEncoding) {
					return route{}, err
				}
				return route{}, clierr.Wrap(clierr.CodeValidation, "token amount", err)
			}
			rt.baseAmount = base
		}
	}
	return rt, nil
}

func needsApproval(action registry.StrategyAction, rt route) bool {
	return action.RequiresApproval && action.RequiresToken && rt.hasToken && rt.baseAmount.Sign() > 0
}

func (o *Orchestrator) spender(rt route) common.Address {
	if o.opts.Spender == SpenderSourceRouter {
		return common.HexToAddress(rt.source.RouterAddress)
	}
	return common.HexToAddress(rt.destination.RouterAddress)
}

func (o *Orchestrator) approve(ctx context.Context, key ActionKey, rt route) (ApprovalTransaction, error) {
	spender := o.spender(rt)
	tx := ApprovalTransaction{
		TokenAddress:   rt.token.Hex(),
		SpenderAddress: spender.Hex(),
		Amount:         rt.baseAmount.String(),
		Status:         ApprovalPending,
	}
	o.session.setApproval(key, tx)

	hash, err := o.submit(ctx, ApproveCall(o.wallet.ChainID(), rt.token, spender, o.wallet.Address(), rt.baseAmount))
	if err != nil {
		tx.Status = ApprovalFailed
		o.session.setApproval(key, tx)
		return tx, err
	}
	tx.Status = ApprovalSuccess
	tx.TxHash = hash
	o.session.setApproval(key, tx)
	return tx, nil
}

func (o *Orchestrator) submit(ctx context.Context, call Call) (string, error) {
	start := time.Now()
	hash, err := o.gateway.Submit(ctx, call)
	metrics.SubmissionDuration.WithLabelValues(call.Method).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SubmissionsTotal.WithLabelValues(call.Method, status).Inc()
	return hash, err
}

func buildExecution(rt route, action registry.StrategyAction, payload []byte) CrossChainExecution {
	token := common.Address{}
	if rt.hasToken {
		token = rt.token
	}
	return CrossChainExecution{
		DestinationChain: rt.selector,
		Receiver:         rt.destination.RouterAddress,
		Strategy:         rt.destination.StrategyAddress,
		Action:           action.ID,
		Token:            token.Hex(),
		Amount:           rt.baseAmount.String(),
		Data:             hexutil.Encode(payload),
	}
}

// reject reports a failure that leaves the session untouched.
func (o *Orchestrator) reject(key ActionKey, title string, err error) error {
	metrics.ExecutionsTotal.WithLabelValues(key.StrategyID, outcome(err)).Inc()
	o.opts.Notifier.Notify(Notification{Key: key, Level: LevelError, Title: title, Message: message(err)})
	return err
}

// fail stores an error result for the key, then notifies.
func (o *Orchestrator) fail(ctx context.Context, rec Record, stage, msg string, approval *ApprovalTransaction, err error) error {
	reason := ""
	if typed, ok := clierr.As(err); ok && typed.Cause != nil {
		reason = typed.Cause.Error()
	} else {
		reason = err.Error()
	}
	result := FunctionResult{
		Type:       ResultError,
		Data:       ErrorDetail{Stage: stage, Message: msg, Reason: reason},
		Timestamp:  o.opts.Now().UTC(),
		ApprovalTx: approval,
	}
	o.session.setResult(rec.Key, result)
	rec.Result = result
	o.record(ctx, rec)
	metrics.ExecutionsTotal.WithLabelValues(rec.Key.StrategyID, outcome(err)).Inc()
	o.opts.Notifier.Notify(Notification{Key: rec.Key, Level: LevelError, Title: msg, Message: reason})
	return err
}

func (o *Orchestrator) record(ctx context.Context, rec Record) {
	if o.opts.Recorder == nil {
		return
	}
	if err := o.opts.Recorder.Record(ctx, rec); err != nil {
		o.opts.Logger.WithFields(logrus.Fields{
			"action_key": rec.Key.String(),
			"error":      err.Error(),
		}).Warn("journal write failed")
	}
}

func outcome(err error) string {
	if typed, ok := clierr.As(err); ok {
		return clierr.TypeName(typed.Code)
	}
	return clierr.TypeName(clierr.CodeInternal)
}

func message(err error) string {
	if typed, ok := clierr.As(err); ok {
		return typed.Message
	}
	return err.Error()
}
