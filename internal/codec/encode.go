package codec

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/stratsync/internal/amount"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

// Encode ABI-encodes the action parameters in declared order. Numeric
// values are scaled by 18 decimals unless the parameter overrides it.
func Encode(action registry.StrategyAction, inputs Inputs) ([]byte, error) {
	args, err := arguments(action)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeEncoding, "build parameter types", err)
	}
	values := make([]any, 0, len(action.Parameters))
	for _, p := range action.Parameters {
		v := inputs[p.Name]
		if v.IsEmpty() && p.DefaultValue != "" {
			v = ParseValue(p.Type, p.DefaultValue)
		}
		converted, err := convert(p, v)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeEncoding, fmt.Sprintf("encode parameter %s", p.Name), err)
		}
		values = append(values, converted)
	}
	out, err := args.Pack(values...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeEncoding, "pack parameters", err)
	}
	return out, nil
}

// Decode is the inverse of Encode. Numeric values come back as canonical
// decimal strings and addresses in checksum form.
func Decode(action registry.StrategyAction, data []byte) (Inputs, error) {
	if len(data)%32 != 0 {
		return nil, clierr.New(clierr.CodeDecoding, fmt.Sprintf("payload length %d is not a multiple of 32", len(data)))
	}
	args, err := arguments(action)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeDecoding, "build parameter types", err)
	}
	if len(args) == 0 {
		if len(data) != 0 {
			return nil, clierr.New(clierr.CodeDecoding, "unexpected payload for action without parameters")
		}
		return Inputs{}, nil
	}
	raw, err := args.Unpack(data)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeDecoding, "unpack parameters", err)
	}
	if len(raw) != len(action.Parameters) {
		return nil, clierr.New(clierr.CodeDecoding, fmt.Sprintf("expected %d values, got %d", len(action.Parameters), len(raw)))
	}
	out := make(Inputs, len(raw))
	for i, p := range action.Parameters {
		v, err := present(p, raw[i])
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeDecoding, fmt.Sprintf("decode parameter %s", p.Name), err)
		}
		out[p.Name] = v
	}
	return out, nil
}

func arguments(action registry.StrategyAction) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(action.Parameters))
	for _, p := range action.Parameters {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
		}
		typ, err := abi.NewType(string(p.Type), "", nil)
		if err != nil {
			return nil, err
		}
		args = append(args, abi.Argument{Name: p.Name, Type: typ})
	}
	return args, nil
}

func decimalsOf(p registry.ActionParameter) int32 {
	if p.Decimals != nil {
		return *p.Decimals
	}
	return amount.DefaultDecimals
}

func convert(p registry.ActionParameter, v Value) (any, error) {
	switch p.Type {
	case registry.ParamUint256:
		if v.IsEmpty() {
			return nil, fmt.Errorf("missing value")
		}
		return amount.ToBaseUnits(v.Text(), decimalsOf(p))
	case registry.ParamAddress:
		return toAddress(v.Text())
	case registry.ParamBool:
		if v.Kind() == KindBool {
			return v.flag, nil
		}
		return strings.EqualFold(strings.TrimSpace(v.Text()), "true"), nil
	case registry.ParamString:
		return v.Text(), nil
	case registry.ParamBytes:
		if v.IsEmpty() {
			return []byte{}, nil
		}
		return hexutil.Decode(strings.TrimSpace(v.Text()))
	case registry.ParamAddressArray:
		items := listItems(v)
		out := make([]common.Address, 0, len(items))
		for _, item := range items {
			addr, err := toAddress(item)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
		return out, nil
	case registry.ParamUint256Array:
		items := listItems(v)
		out := make([]*big.Int, 0, len(items))
		for _, item := range items {
			n, err := amount.ToBaseUnits(item, decimalsOf(p))
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
	}
}

// toAddress leaves the sender sentinel as the zero address for the
// destination contract to substitute.
func toAddress(v string) (common.Address, error) {
	clean := strings.TrimSpace(v)
	if clean == SenderSentinel {
		return common.Address{}, nil
	}
	if !addressPattern.MatchString(clean) {
		return common.Address{}, fmt.Errorf("invalid address %q", v)
	}
	return common.HexToAddress(clean), nil
}

func present(p registry.ActionParameter, raw any) (Value, error) {
	switch t := raw.(type) {
	case *big.Int:
		return String(amount.FormatBaseUnits(t, decimalsOf(p))), nil
	case common.Address:
		return String(t.Hex()), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return String(hexutil.Encode(t)), nil
	case []common.Address:
		items := make([]string, 0, len(t))
		for _, a := range t {
			items = append(items, a.Hex())
		}
		return List(items...), nil
	case []*big.Int:
		items := make([]string, 0, len(t))
		for _, n := range t {
			items = append(items, amount.FormatBaseUnits(n, decimalsOf(p)))
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unexpected decoded type %T", raw)
	}
}
