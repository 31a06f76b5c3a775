package registry

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed strategies.yaml
var defaultStrategiesYAML []byte

// Registry is the read-only strategy directory. It is safe for concurrent
// readers once constructed.
type Registry struct {
	strategies []Strategy
	byID       map[string]int
}

// AvailableChain is an active deployment joined with its chain metadata.
type AvailableChain struct {
	ChainDeployment
	Chain Chain `json:"chain"`
}

type strategyFile struct {
	Strategies []Strategy `yaml:"strategies"`
}

// Default returns the registry built from the embedded strategy set.
func Default() (*Registry, error) {
	return Parse(defaultStrategiesYAML)
}

// Load reads a YAML strategy file. An empty path loads the embedded set.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Registry, error) {
	var file strategyFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("parse strategies yaml: %w", err)
	}
	return New(file.Strategies)
}

// New validates strategies and builds a registry over a private copy.
func New(strategies []Strategy) (*Registry, error) {
	r := &Registry{
		strategies: make([]Strategy, 0, len(strategies)),
		byID:       make(map[string]int, len(strategies)),
	}
	for _, s := range strategies {
		if err := Validate(s); err != nil {
			return nil, err
		}
		if _, exists := r.byID[s.ID]; exists {
			return nil, fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		r.byID[s.ID] = len(r.strategies)
		r.strategies = append(r.strategies, s)
	}
	return r, nil
}

// Validate checks the structural invariants of a strategy definition.
func Validate(s Strategy) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("strategy id is required")
	}
	seenChains := map[int64]struct{}{}
	for _, d := range s.Chains {
		if d.ChainID <= 0 {
			return fmt.Errorf("strategy %s: invalid chain id %d", s.ID, d.ChainID)
		}
		if _, exists := seenChains[d.ChainID]; exists {
			return fmt.Errorf("strategy %s: duplicate deployment for chain %d", s.ID, d.ChainID)
		}
		seenChains[d.ChainID] = struct{}{}
		if !common.IsHexAddress(d.StrategyAddress) {
			return fmt.Errorf("strategy %s chain %d: invalid strategy address", s.ID, d.ChainID)
		}
		if !common.IsHexAddress(d.RouterAddress) {
			return fmt.Errorf("strategy %s chain %d: invalid router address", s.ID, d.ChainID)
		}
		for _, tok := range d.ValidTokens {
			if !common.IsHexAddress(tok.Address) {
				return fmt.Errorf("strategy %s chain %d: invalid token address %q", s.ID, d.ChainID, tok.Address)
			}
			if tok.Decimals < 0 || tok.Decimals > 77 {
				return fmt.Errorf("strategy %s chain %d: invalid decimals for %s", s.ID, d.ChainID, tok.Symbol)
			}
		}
	}

	seenActions := map[uint64]struct{}{}
	for _, a := range s.Actions {
		if _, exists := seenActions[a.ID]; exists {
			return fmt.Errorf("strategy %s: duplicate action id %d", s.ID, a.ID)
		}
		seenActions[a.ID] = struct{}{}
		if !a.Type.Valid() {
			return fmt.Errorf("strategy %s action %d: unsupported action type %q", s.ID, a.ID, a.Type)
		}
		if a.RequiresApproval && !a.RequiresToken {
			return fmt.Errorf("strategy %s action %d: requires_approval needs requires_token", s.ID, a.ID)
		}
		if err := validateParameters(a.Parameters); err != nil {
			return fmt.Errorf("strategy %s action %d: %w", s.ID, a.ID, err)
		}
	}
	return nil
}

func validateParameters(params []ActionParameter) error {
	seen := map[string]struct{}{}
	for _, p := range params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("parameter name is required")
		}
		if _, exists := seen[p.Name]; exists {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.Valid() {
			return fmt.Errorf("parameter %s: unsupported type %q", p.Name, p.Type)
		}
		if p.Decimals != nil && (*p.Decimals < 0 || !p.Type.IsNumeric()) {
			return fmt.Errorf("parameter %s: decimals only apply to numeric types", p.Name)
		}
		if p.Validation == nil {
			continue
		}
		for _, bound := range []string{p.Validation.Min, p.Validation.Max} {
			if bound == "" {
				continue
			}
			if _, err := decimal.NewFromString(bound); err != nil {
				return fmt.Errorf("parameter %s: invalid bound %q", p.Name, bound)
			}
		}
		if p.Validation.Pattern != "" {
			if _, err := regexp.Compile(p.Validation.Pattern); err != nil {
				return fmt.Errorf("parameter %s: invalid pattern: %w", p.Name, err)
			}
		}
	}
	return nil
}

func (r *Registry) Strategies() []Strategy {
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

func (r *Registry) Strategy(id string) (Strategy, bool) {
	idx, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return Strategy{}, false
	}
	return r.strategies[idx], true
}

func (r *Registry) Action(strategyID string, actionID uint64) (Strategy, StrategyAction, bool) {
	s, ok := r.Strategy(strategyID)
	if !ok {
		return Strategy{}, StrategyAction{}, false
	}
	a, ok := s.Action(actionID)
	if !ok {
		return Strategy{}, StrategyAction{}, false
	}
	return s, a, true
}

// AvailableDeployments lists the active deployments of s that have chain
// metadata, in declared order.
func AvailableDeployments(s Strategy) []AvailableChain {
	out := make([]AvailableChain, 0, len(s.Chains))
	for _, d := range s.Chains {
		if !d.IsActive {
			continue
		}
		meta, ok := ChainMetadata(d.ChainID)
		if !ok {
			continue
		}
		out = append(out, AvailableChain{ChainDeployment: d, Chain: meta})
	}
	return out
}

// SupportedChainIDs returns the distinct chain ids with an active deployment
// across the registry.
func (r *Registry) SupportedChainIDs() []int64 {
	seen := map[int64]struct{}{}
	out := make([]int64, 0)
	for _, s := range r.strategies {
		for _, d := range s.Chains {
			if !d.IsActive {
				continue
			}
			if _, ok := seen[d.ChainID]; ok {
				continue
			}
			seen[d.ChainID] = struct{}{}
			out = append(out, d.ChainID)
		}
	}
	return out
}
