package codec

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/shopspring/decimal"
)

// SenderSentinel stands for the caller's address; the destination contract
// substitutes it on execution.
const SenderSentinel = "msg.sender"

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func invalid(msg string) Validation {
	return Validation{Valid: false, Error: msg}
}

// Validate checks one value against its parameter declaration.
func Validate(p registry.ActionParameter, v Value) Validation {
	if v.IsEmpty() {
		if p.Required {
			return invalid(fmt.Sprintf("%s is required", p.Name))
		}
		return Validation{Valid: true}
	}

	switch p.Type {
	case registry.ParamUint256:
		n, err := decimal.NewFromString(strings.TrimSpace(v.Text()))
		if err != nil || n.IsNegative() {
			return invalid("Must be a positive number")
		}
		if p.Validation != nil {
			if min, err := decimal.NewFromString(p.Validation.Min); err == nil && n.LessThan(min) {
				return invalid(fmt.Sprintf("Must be at least %s", p.Validation.Min))
			}
			if max, err := decimal.NewFromString(p.Validation.Max); err == nil && n.GreaterThan(max) {
				return invalid(fmt.Sprintf("Must be at most %s", p.Validation.Max))
			}
		}
	case registry.ParamAddress:
		text := v.Text()
		if text != SenderSentinel && !addressPattern.MatchString(text) {
			return invalid("Must be a valid Ethereum address")
		}
	case registry.ParamBool:
	case registry.ParamString:
		if p.Validation != nil && p.Validation.Pattern != "" {
			re, err := regexp.Compile(p.Validation.Pattern)
			if err != nil || !re.MatchString(v.Text()) {
				return invalid("Invalid format")
			}
		}
	case registry.ParamBytes:
		if !strings.HasPrefix(v.Text(), "0x") {
			return invalid("Must start with 0x")
		}
	case registry.ParamAddressArray, registry.ParamUint256Array:
		if v.Kind() == KindList {
			break
		}
		if _, ok := parseJSONList(v.Text()); !ok && !strings.Contains(v.Text(), ",") {
			return invalid("Must be a JSON array or comma-separated values")
		}
	}
	return Validation{Valid: true}
}

// ValidateAll validates every declared parameter in order and returns the
// first failure as a validation error.
func ValidateAll(action registry.StrategyAction, inputs Inputs) error {
	for _, p := range action.Parameters {
		res := Validate(p, inputs[p.Name])
		if !res.Valid {
			return clierr.New(clierr.CodeValidation, fmt.Sprintf("%s: %s", p.Name, res.Error))
		}
	}
	return nil
}
