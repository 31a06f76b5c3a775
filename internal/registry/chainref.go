package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)

var chainAliases = map[string]int64{
	"sepolia": 11155111,
	"base":    84532,
	"op":      10,
	"arb":     42161,
}

// ChainSlug is the lowercase, dash-separated form of a chain name.
func ChainSlug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// ParseChainID accepts a native chain id, a CAIP-2 eip155 reference, or the
// slug of a known chain name such as "base-sepolia".
func ParseChainID(input string) (int64, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return 0, fmt.Errorf("chain is required")
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if id <= 0 {
			return 0, fmt.Errorf("invalid chain id %d", id)
		}
		return id, nil
	}
	if id, ok := chainAliases[norm]; ok {
		return id, nil
	}
	slug := ChainSlug(norm)
	for _, c := range chainsByID {
		if ChainSlug(c.Name) == slug {
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("unsupported chain input: %s", input)
}
