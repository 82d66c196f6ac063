package scim

import (
	"fmt"
	"strings"
)

// filter is a parsed SCIM filter expression.
type filter struct {
	Attribute string
	Value     string
}

// parseFilter parses a simple SCIM filter expression.
// Only `attribute eq "value"` is supported, for the attributes identity
// providers actually query: userName, displayName, externalId.
func parseFilter(expr string) (filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return filter{}, fmt.Errorf("empty filter expression")
	}

	parts := strings.SplitN(expr, " ", 3)
	if len(parts) < 3 {
		return filter{}, fmt.Errorf("filter must be in format: attribute op \"value\"")
	}

	attribute := parts[0]
	operator := strings.ToLower(parts[1])
	value := strings.TrimSpace(parts[2])

	if operator != "eq" {
		return filter{}, fmt.Errorf("unsupported operator %q, only \"eq\" is supported", operator)
	}

	switch attribute {
	case "userName", "displayName", "externalId":
		// OK
	default:
		return filter{}, fmt.Errorf("unsupported filter attribute %q", attribute)
	}

	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}

	return filter{Attribute: attribute, Value: value}, nil
}
