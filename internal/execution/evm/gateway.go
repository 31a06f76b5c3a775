package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/execution/signer"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/sirupsen/logrus"
)

// Client is the subset of ethclient.Client the gateway needs.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type DialFunc func(ctx context.Context, url string) (Client, error)

type Options struct {
	RPCURLs            map[int64]string
	Simulate           bool
	WaitForReceipt     bool
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	Dial               DialFunc
	Logger             logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		Simulate:      true,
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

// Gateway submits execution calls as EIP-1559 transactions signed locally.
type Gateway struct {
	signer signer.Signer
	opts   Options
}

func New(txSigner signer.Signer, opts Options) *Gateway {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.Dial == nil {
		opts.Dial = dialEthclient
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Gateway{signer: txSigner, opts: opts}
}

func dialEthclient(ctx context.Context, url string) (Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Gateway) Submit(ctx context.Context, call execution.Call) (string, error) {
	if g.signer == nil {
		return "", clierr.New(clierr.CodeSigner, "missing signer")
	}
	if call.From != (common.Address{}) && call.From != g.signer.Address() {
		return "", clierr.New(clierr.CodeSigner, fmt.Sprintf("call sender %s does not match signer %s", call.From.Hex(), g.signer.Address().Hex()))
	}
	if call.Contract == (common.Address{}) {
		return "", clierr.New(clierr.CodeUsage, "missing call target")
	}
	data, err := call.Data()
	if err != nil {
		return "", clierr.Wrap(clierr.CodeEncoding, "pack call data", err)
	}
	if err := checkCallPolicy(call, data); err != nil {
		return "", err
	}
	url, err := registry.ResolveRPCURL(g.opts.RPCURLs[call.ChainID], call.ChainID)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := g.opts.Dial(ctx, url)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	log := g.opts.Logger.WithFields(logrus.Fields{
		"chain_id": call.ChainID,
		"method":   call.Method,
		"target":   call.Contract.Hex(),
	})
	hash, err := g.send(ctx, client, call, data)
	if err != nil {
		log.WithField("error", err.Error()).Warn("submission failed")
		return "", err
	}
	log.WithField("tx_hash", hash).Info("transaction submitted")
	return hash, nil
}

func (g *Gateway) send(ctx context.Context, client Client, call execution.Call, data []byte) (string, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != call.ChainID {
		return "", clierr.New(clierr.CodeUnavailable, fmt.Sprintf("rpc chain mismatch: expected %d, got %d", call.ChainID, chainID.Int64()))
	}
	from := g.signer.Address()
	target := call.Contract
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: from, To: &target, Value: value, Data: data}

	if g.opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return "", wrapEVMExecutionError(clierr.CodeSimulation, "simulate call (eth_call)", err)
		}
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		estimated, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return "", wrapEVMExecutionError(clierr.CodeSimulation, "estimate gas", err)
		}
		gasLimit = uint64(float64(estimated) * g.opts.GasMultiplier)
	}

	tipCap, err := resolveTipCap(ctx, client, g.opts.MaxPriorityFeeGwei)
	if err != nil {
		return "", err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, g.opts.MaxFeeGwei)
	if err != nil {
		return "", err
	}

	unlock := acquireSignerNonceLock(chainID, from)
	defer unlock()
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := g.signer.SignTx(chainID, tx)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	hash := signed.Hash().Hex()
	if !g.opts.WaitForReceipt && !call.Wait {
		return hash, nil
	}
	if err := g.waitReceipt(ctx, client, signed.Hash()); err != nil {
		return hash, err
	}
	return hash, nil
}

func (g *Gateway) waitReceipt(ctx context.Context, client Client, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return clierr.New(clierr.CodeDispatch, "transaction reverted on-chain")
		}
		// Transient polling failures are retried until the step timeout.
		select {
		case <-waitCtx.Done():
			return clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

var (
	nonceLocksMu sync.Mutex
	nonceLocks   = map[string]*sync.Mutex{}
)

// acquireSignerNonceLock serializes nonce allocation per signer and chain.
func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	key := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(addr.Hex()))
	nonceLocksMu.Lock()
	mu, ok := nonceLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		nonceLocks[key] = mu
	}
	nonceLocksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func resolveTipCap(ctx context.Context, client Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71}
)

// decodeRevertData renders Error(string), Panic(uint256) or a custom error
// selector.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector, payload := data[:4], data[4:]
	switch {
	case string(selector) == string(errorStringSelector):
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason
		}
		return ""
	case string(selector) == string(panicSelector):
		if len(payload) >= 32 {
			return fmt.Sprintf("panic code 0x%x", new(big.Int).SetBytes(payload[:32]))
		}
		return "panic"
	default:
		return fmt.Sprintf("custom error %s", hexutil.Encode(selector))
	}
}

type rpcDataError interface {
	error
	ErrorData() interface{}
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		buf, decodeErr := hexutil.Decode(v)
		if decodeErr != nil {
			return ""
		}
		return decodeRevertData(buf)
	case []byte:
		return decodeRevertData(v)
	default:
		return ""
	}
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: %s", message, reason), err)
	}
	return clierr.Wrap(code, message, err)
}
