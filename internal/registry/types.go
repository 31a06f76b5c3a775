package registry

import "strings"

type Category string

const (
	CategoryYield     Category = "yield"
	CategoryLending   Category = "lending"
	CategoryLiquidity Category = "liquidity"
	CategoryStaking   Category = "staking"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type ActionType string

const (
	ActionDeposit  ActionType = "deposit"
	ActionWithdraw ActionType = "withdraw"
	ActionClaim    ActionType = "claim"
	ActionStake    ActionType = "stake"
	ActionUnstake  ActionType = "unstake"
	ActionCompound ActionType = "compound"
	ActionBorrow   ActionType = "borrow"
	ActionRepay    ActionType = "repay"
	ActionManage   ActionType = "manage"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionDeposit, ActionWithdraw, ActionClaim, ActionStake, ActionUnstake,
		ActionCompound, ActionBorrow, ActionRepay, ActionManage:
		return true
	default:
		return false
	}
}

// ParamType is the closed set of ABI types an action parameter may declare.
type ParamType string

const (
	ParamUint256      ParamType = "uint256"
	ParamAddress      ParamType = "address"
	ParamBool         ParamType = "bool"
	ParamString       ParamType = "string"
	ParamBytes        ParamType = "bytes"
	ParamAddressArray ParamType = "address[]"
	ParamUint256Array ParamType = "uint256[]"
)

func (t ParamType) Valid() bool {
	switch t {
	case ParamUint256, ParamAddress, ParamBool, ParamString, ParamBytes, ParamAddressArray, ParamUint256Array:
		return true
	default:
		return false
	}
}

func (t ParamType) IsArray() bool {
	return strings.HasSuffix(string(t), "[]")
}

// Elem returns the element type of an array type, or t itself.
func (t ParamType) Elem() ParamType {
	return ParamType(strings.TrimSuffix(string(t), "[]"))
}

func (t ParamType) IsNumeric() bool {
	return t.Elem() == ParamUint256
}

type ValidToken struct {
	Address  string `yaml:"address" json:"address"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
	LogoURL  string `yaml:"logo_url" json:"logo_url,omitempty"`
}

type ChainDeployment struct {
	ChainID         int64        `yaml:"chain_id" json:"chain_id"`
	ChainName       string       `yaml:"chain_name" json:"chain_name"`
	StrategyAddress string       `yaml:"strategy_address" json:"strategy_address"`
	RouterAddress   string       `yaml:"router_address" json:"router_address"`
	IsActive        bool         `yaml:"is_active" json:"is_active"`
	ValidTokens     []ValidToken `yaml:"valid_tokens" json:"valid_tokens,omitempty"`
}

type ParameterValidation struct {
	Min     string `yaml:"min" json:"min,omitempty"`
	Max     string `yaml:"max" json:"max,omitempty"`
	Pattern string `yaml:"pattern" json:"pattern,omitempty"`
}

type ActionParameter struct {
	Name         string               `yaml:"name" json:"name"`
	Type         ParamType            `yaml:"type" json:"type"`
	Description  string               `yaml:"description" json:"description,omitempty"`
	Required     bool                 `yaml:"required" json:"required"`
	DefaultValue string               `yaml:"default_value" json:"default_value,omitempty"`
	Validation   *ParameterValidation `yaml:"validation" json:"validation,omitempty"`
	// Decimals overrides the 18-decimal scaling of numeric values.
	Decimals *int32 `yaml:"decimals" json:"decimals,omitempty"`
}

type StrategyAction struct {
	ID               uint64            `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	Description      string            `yaml:"description" json:"description,omitempty"`
	Type             ActionType        `yaml:"type" json:"type"`
	Parameters       []ActionParameter `yaml:"parameters" json:"parameters"`
	IsReadOnly       bool              `yaml:"is_read_only" json:"is_read_only"`
	RequiresToken    bool              `yaml:"requires_token" json:"requires_token"`
	RequiresApproval bool              `yaml:"requires_approval" json:"requires_approval"`
	EstimatedGas     uint64            `yaml:"estimated_gas" json:"estimated_gas,omitempty"`
}

// Types returns the declared parameter types in encoding order.
func (a StrategyAction) Types() []string {
	out := make([]string, 0, len(a.Parameters))
	for _, p := range a.Parameters {
		out = append(out, string(p.Type))
	}
	return out
}

type Strategy struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Protocol    string            `yaml:"protocol" json:"protocol"`
	Category    Category          `yaml:"category" json:"category"`
	RiskLevel   RiskLevel         `yaml:"risk_level" json:"risk_level"`
	APY         float64           `yaml:"apy" json:"apy"`
	TVL         float64           `yaml:"tvl" json:"tvl"`
	IsActive    bool              `yaml:"is_active" json:"is_active"`
	LogoURL     string            `yaml:"logo_url" json:"logo_url,omitempty"`
	Tags        []string          `yaml:"tags" json:"tags,omitempty"`
	Chains      []ChainDeployment `yaml:"chains" json:"chains"`
	Actions     []StrategyAction  `yaml:"actions" json:"actions"`
}

func (s Strategy) Action(id uint64) (StrategyAction, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return StrategyAction{}, false
}

// Deployment returns the active deployment of s on chainID.
func (s Strategy) Deployment(chainID int64) (ChainDeployment, bool) {
	for _, d := range s.Chains {
		if d.ChainID == chainID && d.IsActive {
			return d, true
		}
	}
	return ChainDeployment{}, false
}

// TokenDecimals returns the declared decimals of token on the deployment,
// falling back to 18 for tokens outside the allow-list.
func (d ChainDeployment) TokenDecimals(token string) int32 {
	for _, t := range d.ValidTokens {
		if strings.EqualFold(strings.TrimSpace(t.Address), strings.TrimSpace(token)) {
			return t.Decimals
		}
	}
	return 18
}
