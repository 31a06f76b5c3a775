package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
)

// alwaysAllowed commands carry no side effects and stay reachable under any
// allowlist.
var alwaysAllowed = map[string]struct{}{
	"version": {},
	"schema":  {},
}

// CheckCommandAllowed enforces the --enable-commands allowlist. An entry
// allows the command path itself and every subcommand below it.
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	if _, ok := alwaysAllowed[normPath]; ok {
		return nil
	}
	for _, allowed := range allowlist {
		norm := normalize(allowed)
		if norm == "" {
			continue
		}
		if norm == normPath || strings.HasPrefix(normPath, norm+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy: "+normPath)
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
