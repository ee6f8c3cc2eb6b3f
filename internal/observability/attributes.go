// Package observability provides the harness metrics and their attributes.
package observability

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrRole      = "role"
	attrStatus    = "status"
	attrOutcome   = "outcome"
	attrMethod    = "method"
	attrProcedure = "procedure"
	attrScenario  = "scenario"
	attrResult    = "result"
	attrSuccess   = "success"
)

func roleAttr(role string) attribute.KeyValue {
	return attribute.String(attrRole, role)
}

func statusAttr(status string) attribute.KeyValue {
	// Controllers have reported the same status in different cases.
	return attribute.String(attrStatus, normalizeLabel(status))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, normalizeLabel(outcome))
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func procedureAttr(name string) attribute.KeyValue {
	return attribute.String(attrProcedure, name)
}

func scenarioAttr(name string) attribute.KeyValue {
	return attribute.String(attrScenario, name)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, normalizeLabel(result))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizeLabel lower-cases a label value and maps empty to "unknown".
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
