package admin

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/google/uuid"
)

// ProtocolConfig binds a strategy action to a protocol on a chain.
type ProtocolConfig struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	ChainSelector string    `json:"chain_selector"`
	Protocol      string    `json:"protocol"`
	Strategy      string    `json:"strategy"`
	Action        uint64    `json:"action"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProtocolEntry allows or blocks a protocol on a chain.
type ProtocolEntry struct {
	ID            string    `json:"id"`
	ChainSelector string    `json:"chain_selector"`
	Protocol      string    `json:"protocol"`
	IsAllowed     bool      `json:"is_allowed"`
	CreatedAt     time.Time `json:"created_at"`
}

type Stats struct {
	TotalConfigurations int    `json:"total_configurations"`
	ActiveProtocols     int    `json:"active_protocols"`
	SupportedChains     int    `json:"supported_chains"`
	TotalActions        uint64 `json:"total_actions"`
}

const (
	KindAction         = "action"
	KindStrategyAction = "strategy_action"
)

// ActionRequest is the input of SetAction and SetStrategyAction.
type ActionRequest struct {
	ChainSelector string `json:"chain_selector"`
	Protocol      string `json:"protocol"`
	Strategy      string `json:"strategy"`
	Action        string `json:"action"`
}

type ProtocolRequest struct {
	ChainSelector string `json:"chain_selector"`
	Protocol      string `json:"protocol"`
	Allowed       bool   `json:"allowed"`
}

// Store keeps admin configuration in memory, newest first.
type Store struct {
	mu      sync.RWMutex
	configs []ProtocolConfig
	entries []ProtocolEntry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) SetAction(req ActionRequest) (ProtocolConfig, error) {
	return s.addConfig(KindAction, req)
}

func (s *Store) SetStrategyAction(req ActionRequest) (ProtocolConfig, error) {
	return s.addConfig(KindStrategyAction, req)
}

func (s *Store) addConfig(kind string, req ActionRequest) (ProtocolConfig, error) {
	if err := checkChain(req.ChainSelector); err != nil {
		return ProtocolConfig{}, err
	}
	protocol, strategy := strings.TrimSpace(req.Protocol), strings.TrimSpace(req.Strategy)
	if protocol == "" || strategy == "" {
		return ProtocolConfig{}, clierr.New(clierr.CodeValidation, "protocol and strategy are required")
	}
	action, err := strconv.ParseUint(strings.TrimSpace(req.Action), 10, 64)
	if err != nil {
		return ProtocolConfig{}, clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid action %q", req.Action))
	}
	cfg := ProtocolConfig{
		ID:            uuid.NewString(),
		Kind:          kind,
		ChainSelector: strings.TrimSpace(req.ChainSelector),
		Protocol:      protocol,
		Strategy:      strategy,
		Action:        action,
		IsActive:      true,
		CreatedAt:     s.now().UTC(),
	}
	s.mu.Lock()
	s.configs = append([]ProtocolConfig{cfg}, s.configs...)
	s.mu.Unlock()
	return cfg, nil
}

func (s *Store) SetProtocol(req ProtocolRequest) (ProtocolEntry, error) {
	if err := checkChain(req.ChainSelector); err != nil {
		return ProtocolEntry{}, err
	}
	protocol := strings.TrimSpace(req.Protocol)
	if protocol == "" {
		return ProtocolEntry{}, clierr.New(clierr.CodeValidation, "protocol is required")
	}
	entry := ProtocolEntry{
		ID:            uuid.NewString(),
		ChainSelector: strings.TrimSpace(req.ChainSelector),
		Protocol:      protocol,
		IsAllowed:     req.Allowed,
		CreatedAt:     s.now().UTC(),
	}
	s.mu.Lock()
	s.entries = append([]ProtocolEntry{entry}, s.entries...)
	s.mu.Unlock()
	return entry, nil
}

func (s *Store) Configs() []ProtocolConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ProtocolConfig(nil), s.configs...)
}

func (s *Store) Entries() []ProtocolEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ProtocolEntry(nil), s.entries...)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		TotalConfigurations: len(s.configs),
		SupportedChains:     len(registry.Chains()),
	}
	for _, e := range s.entries {
		if e.IsAllowed {
			stats.ActiveProtocols++
		}
	}
	for _, c := range s.configs {
		stats.TotalActions += c.Action
	}
	return stats
}

// checkChain accepts the native chain ids offered by the chain picker.
func checkChain(selector string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(selector), 10, 64)
	if err != nil {
		return clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid chain selector %q", selector))
	}
	if _, ok := registry.ChainMetadata(id); !ok {
		return clierr.New(clierr.CodeValidation, fmt.Sprintf("unsupported chain %d", id))
	}
	return nil
}
