package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

// Call is one contract call handed to a Gateway.
type Call struct {
	ChainID  int64
	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
	From     common.Address
	Value    *big.Int
	GasLimit uint64
	// Wait makes the gateway block until the transaction is mined,
	// regardless of its own receipt setting.
	Wait bool
}

// Data packs the method selector and arguments.
func (c Call) Data() ([]byte, error) {
	return c.ABI.Pack(c.Method, c.Args...)
}

// Gateway submits a contract call and returns its transaction hash. It
// fails when the user rejects, the RPC call fails or gas estimation fails.
type Gateway interface {
	Submit(ctx context.Context, call Call) (string, error)
}

// Wallet is the connected account and the chain it is connected to.
type Wallet interface {
	Address() common.Address
	ChainID() int64
}

// StaticWallet is a Wallet whose connected chain can be switched.
type StaticWallet struct {
	mu      sync.RWMutex
	address common.Address
	chainID int64
}

func NewStaticWallet(address common.Address, chainID int64) *StaticWallet {
	return &StaticWallet{address: address, chainID: chainID}
}

func (w *StaticWallet) Address() common.Address { return w.address }

func (w *StaticWallet) ChainID() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainID
}

func (w *StaticWallet) SwitchChain(chainID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = chainID
}

var (
	erc20ABI  = mustABI(registry.ERC20MinimalABI)
	routerABI = mustABI(registry.CrossChainRouterABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ApproveCall builds an ERC-20 approve(spender, amount) call. The call
// waits for its receipt so a following call sees the allowance.
func ApproveCall(chainID int64, token, spender, from common.Address, amount *big.Int) Call {
	return Call{
		ChainID:  chainID,
		Contract: token,
		ABI:      erc20ABI,
		Method:   registry.MethodApprove,
		Args:     []any{spender, amount},
		From:     from,
		Wait:     true,
	}
}

// SyncCall builds the router's crossChainSync call carrying exec.
func SyncCall(chainID int64, router, from common.Address, exec CrossChainExecution, gasLimit uint64) (Call, error) {
	args, err := exec.args()
	if err != nil {
		return Call{}, err
	}
	return Call{
		ChainID:  chainID,
		Contract: router,
		ABI:      routerABI,
		Method:   registry.MethodCrossChainSync,
		Args:     args,
		From:     from,
		GasLimit: gasLimit,
	}, nil
}

func (e CrossChainExecution) args() ([]any, error) {
	destination, err := strconv.ParseUint(e.DestinationChain, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid destination chain selector %q", e.DestinationChain)
	}
	amount, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", e.Amount)
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("amount %s overflows uint256", e.Amount)
	}
	data, err := hexutil.Decode(e.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	for _, addr := range []string{e.Receiver, e.Strategy, e.Token} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address %q", addr)
		}
	}
	return []any{
		destination,
		common.HexToAddress(e.Receiver),
		common.HexToAddress(e.Strategy),
		e.Action,
		common.HexToAddress(e.Token),
		amount,
		data,
	}, nil
}
