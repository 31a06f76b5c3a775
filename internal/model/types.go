package model

import "time"

const EnvelopeVersion = "v1"

// Envelope wraps every CLI and HTTP response.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	// Wallet is the connected account and chain, when one is involved.
	Wallet *WalletStatus `json:"wallet,omitempty"`
}

type WalletStatus struct {
	Address       string `json:"address"`
	ChainID       int64  `json:"chain_id"`
	SelectedChain int64  `json:"selected_chain,omitempty"`
}

type SelectorInfo struct {
	ChainID       int64  `json:"chain_id"`
	ChainName     string `json:"chain_name,omitempty"`
	CrossChainID  string `json:"cross_chain_id"`
	Mapped        bool   `json:"mapped"`
	DefaultRPCURL string `json:"default_rpc_url,omitempty"`
}

type ParamCheck struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type EncodedParams struct {
	StrategyID string   `json:"strategy_id"`
	ActionID   uint64   `json:"action_id"`
	Types      []string `json:"types"`
	Data       string   `json:"data"`
}
