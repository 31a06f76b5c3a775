package registry

// Chain is the display metadata joined onto deployments for chain pickers.
type Chain struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	LogoURL     string `json:"logo_url"`
	RPCURL      string `json:"rpc_url"`
	ExplorerURL string `json:"explorer_url"`
	IsActive    bool   `json:"is_active"`
}

var chainOrder = []int64{11155111, 84532, 10, 42161}

var chainsByID = map[int64]Chain{
	11155111: {
		ID:          11155111,
		Name:        "Ethereum Sepolia",
		Symbol:      "SepoliaETH",
		LogoURL:     "https://cryptologos.cc/logos/ethereum-eth-logo.png",
		RPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
		ExplorerURL: "https://sepolia.etherscan.io",
		IsActive:    true,
	},
	84532: {
		ID:          84532,
		Name:        "Base Sepolia",
		Symbol:      "ETH",
		LogoURL:     "https://cryptologos.cc/logos/ethereum-eth-logo.png",
		RPCURL:      "https://sepolia.base.org",
		ExplorerURL: "https://sepolia.basescan.org",
		IsActive:    true,
	},
	10: {
		ID:          10,
		Name:        "Optimism",
		Symbol:      "OP",
		LogoURL:     "https://cryptologos.cc/logos/optimism-ethereum-op-logo.png",
		RPCURL:      "https://mainnet.optimism.io",
		ExplorerURL: "https://optimistic.etherscan.io",
		IsActive:    true,
	},
	42161: {
		ID:          42161,
		Name:        "Arbitrum",
		Symbol:      "ARB",
		LogoURL:     "https://cryptologos.cc/logos/arbitrum-arb-logo.png",
		RPCURL:      "https://arb1.arbitrum.io/rpc",
		ExplorerURL: "https://arbiscan.io",
		IsActive:    true,
	},
}

func Chains() []Chain {
	out := make([]Chain, 0, len(chainOrder))
	for _, id := range chainOrder {
		out = append(out, chainsByID[id])
	}
	return out
}

func ChainMetadata(chainID int64) (Chain, bool) {
	c, ok := chainsByID[chainID]
	return c, ok
}

// UnmappedCrossChainID is returned for chains missing from the selector table.
// Callers must check for it before dispatching a message.
const UnmappedCrossChainID = "000000"

// CCIP chain selectors keyed by native chain id. Values must match the
// messaging layer bit-for-bit.
var crossChainIDByChainID = map[int64]string{
	11155111: "16015286601757825753",
	84532:    "10344971235874465080",
	10:       "800",
	42161:    "900",
}

func ResolveCrossChainID(chainID int64) string {
	if v, ok := crossChainIDByChainID[chainID]; ok {
		return v
	}
	return UnmappedCrossChainID
}

func IsMappedCrossChainID(id string) bool {
	return id != "" && id != UnmappedCrossChainID
}

// IsKnownCrossChainID reports whether id is one of the configured selectors.
func IsKnownCrossChainID(id string) bool {
	for _, v := range crossChainIDByChainID {
		if v == id {
			return true
		}
	}
	return false
}
