package execution

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/stratsync/internal/codec"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

// ActionKey identifies per-action session state.
type ActionKey struct {
	StrategyID string
	ActionID   uint64
}

func KeyOf(s registry.Strategy, a registry.StrategyAction) ActionKey {
	return ActionKey{StrategyID: s.ID, ActionID: a.ID}
}

// String renders the key for display only; map lookups use the struct.
func (k ActionKey) String() string {
	return fmt.Sprintf("%s-%d", k.StrategyID, k.ActionID)
}

func (k ActionKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ActionKey) UnmarshalText(buf []byte) error {
	parsed, err := ParseActionKey(string(buf))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseActionKey splits on the last separator, so strategy ids may contain
// dashes.
func ParseActionKey(v string) (ActionKey, error) {
	idx := strings.LastIndex(v, "-")
	if idx <= 0 || idx == len(v)-1 {
		return ActionKey{}, fmt.Errorf("invalid action key %q", v)
	}
	id, err := strconv.ParseUint(v[idx+1:], 10, 64)
	if err != nil {
		return ActionKey{}, fmt.Errorf("invalid action id in key %q", v)
	}
	return ActionKey{StrategyID: v[:idx], ActionID: id}, nil
}

type ApprovalStatus string

const (
	ApprovalPending ApprovalStatus = "pending"
	ApprovalSuccess ApprovalStatus = "success"
	ApprovalFailed  ApprovalStatus = "failed"
)

type ApprovalTransaction struct {
	TokenAddress   string         `json:"token_address"`
	SpenderAddress string         `json:"spender_address"`
	Amount         string         `json:"amount"`
	TxHash         string         `json:"tx_hash,omitempty"`
	Status         ApprovalStatus `json:"status"`
}

type ResultType string

const (
	ResultSuccess     ResultType = "success"
	ResultError       ResultType = "error"
	ResultTransaction ResultType = "transaction"
	ResultApproval    ResultType = "approval"
)

type FunctionResult struct {
	Type       ResultType           `json:"type"`
	Data       any                  `json:"data,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
	TxHash     string               `json:"tx_hash,omitempty"`
	ApprovalTx *ApprovalTransaction `json:"approval_tx,omitempty"`
}

// CrossChainExecution is the argument tuple of the router's crossChainSync.
type CrossChainExecution struct {
	DestinationChain string `json:"destination_chain"`
	Receiver         string `json:"receiver"`
	Strategy         string `json:"strategy"`
	Action           uint64 `json:"action"`
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	Data             string `json:"data"`
}

// ExecutionSummary is the data payload of a transaction result.
type ExecutionSummary struct {
	TxHash           string              `json:"tx_hash"`
	Execution        CrossChainExecution `json:"execution"`
	ChainName        string              `json:"chain_name"`
	ActionName       string              `json:"action_name"`
	ApprovalRequired bool                `json:"approval_required"`
	TokenTransfer    bool                `json:"token_transfer"`
}

// ErrorDetail is the data payload of an error result.
type ErrorDetail struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ActionState is a read-only snapshot of one key.
type ActionState struct {
	Key      ActionKey            `json:"key"`
	Inputs   codec.Inputs         `json:"inputs"`
	Loading  bool                 `json:"loading"`
	Approval *ApprovalTransaction `json:"approval,omitempty"`
	Result   *FunctionResult      `json:"result,omitempty"`
}
