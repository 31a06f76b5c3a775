package evm

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

// checkCallPolicy inspects packed calldata before anything is signed. Only
// the two methods the pipeline produces are accepted.
func checkCallPolicy(call execution.Call, data []byte) error {
	method, ok := call.ABI.Methods[call.Method]
	if !ok || len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return clierr.New(clierr.CodeEncoding, fmt.Sprintf("calldata does not match method %s", call.Method))
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return clierr.Wrap(clierr.CodeEncoding, "unpack calldata", err)
	}

	switch call.Method {
	case registry.MethodApprove:
		return checkApprove(args)
	case registry.MethodCrossChainSync:
		return checkCrossChainSync(method.Inputs, args)
	default:
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("method %s is not allowed", call.Method))
	}
}

func checkApprove(args []any) error {
	if len(args) != 2 {
		return clierr.New(clierr.CodeEncoding, "approve calldata is invalid")
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeApproval, "approve has an empty spender")
	}
	amount, ok := args[1].(*big.Int)
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeApproval, "approve amount must be positive")
	}
	return nil
}

func checkCrossChainSync(inputs abi.Arguments, args []any) error {
	if len(args) != len(inputs) {
		return clierr.New(clierr.CodeEncoding, "crossChainSync calldata is invalid")
	}
	named := make(map[string]any, len(args))
	for i, in := range inputs {
		named[in.Name] = args[i]
	}
	selector, ok := named["destinationChain"].(uint64)
	if !ok || !registry.IsKnownCrossChainID(strconv.FormatUint(selector, 10)) {
		return clierr.New(clierr.CodeResolution, fmt.Sprintf("destination selector %v is not a known chain", named["destinationChain"]))
	}
	for _, field := range []string{"receiver", "strategy"} {
		addr, ok := named[field].(common.Address)
		if !ok || addr == (common.Address{}) {
			return clierr.New(clierr.CodeEncoding, fmt.Sprintf("crossChainSync has an empty %s", field))
		}
	}
	return nil
}
