package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// rawSchemas are the JSON Schemas request bodies must satisfy before a
// handler decodes them into typed requests. Semantics beyond shape (risk
// tolerances, governance rules) stay with the kernel packages.
var rawSchemas = map[string]string{
	"score": `{
		"type": "object",
		"required": ["intent"],
		"properties": {
			"intent": {"type": "string", "minLength": 1},
			"context": {"type": "object"}
		}
	}`,

	"gate": `{
		"type": "object",
		"required": ["intent"],
		"properties": {
			"intent": {"type": "string", "minLength": 1},
			"context": {"type": "object"},
			"constraints": {
				"type": "object",
				"properties": {
					"risk_tolerance": {"type": "number", "minimum": 0, "maximum": 1},
					"allow_high_risk": {"type": "boolean"},
					"assumptions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["key"],
							"properties": {
								"key": {"type": "string", "minLength": 1},
								"validated_at": {"type": "string"},
								"expires_at": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}`,

	"mandate_sign": `{
		"type": "object",
		"required": ["intent", "scope", "risk_level"],
		"properties": {
			"intent": {"type": "string", "minLength": 1},
			"scope": {"type": "string", "minLength": 1},
			"risk_level": {"enum": ["low", "medium", "high", "critical"]},
			"min_approvals": {"type": "integer", "minimum": 0},
			"rationale": {"type": "string"},
			"ttl_seconds": {"type": "integer", "minimum": 1},
			"pod_id": {"type": "string"},
			"approvals": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["approver_id"],
					"properties": {
						"approver_id": {"type": "string", "minLength": 1},
						"role": {"type": "string"},
						"approved_at": {"type": "string"}
					}
				}
			}
		}
	}`,

	"mandate_validate": `{
		"type": "object",
		"required": ["token", "expected_intent"],
		"properties": {
			"token": {
				"type": "object",
				"required": ["payload", "signature"],
				"properties": {
					"payload": {"type": "object"},
					"signature": {"type": "string", "minLength": 1},
					"alg": {"type": "string"}
				}
			},
			"expected_intent": {"type": "string", "minLength": 1},
			"min_approvals": {"type": "integer", "minimum": 0},
			"min_risk_level": {"enum": ["low", "medium", "high", "critical"]},
			"pod_id": {"type": "string"}
		}
	}`,

	"decision": `{
		"type": "object",
		"required": ["scope", "initiator", "justification", "pod_id"],
		"properties": {
			"scope": {"enum": ["LOCAL_POD", "CROSS_POD"]},
			"initiator": {"enum": ["POD", "HUMAN"]},
			"justification": {"type": "string", "minLength": 1},
			"affected_invariants": {"type": "array", "items": {"type": "string"}},
			"requires_human_approval": {"type": "boolean"},
			"intent_id": {"type": "string"},
			"pod_id": {"type": "string", "minLength": 1},
			"target_pod_ids": {"type": "array", "items": {"type": "string"}},
			"decision_key": {"type": "string"},
			"declared_optimization_targets": {"type": "array", "items": {"type": "string"}}
		}
	}`,

	"outcome": `{
		"type": "object",
		"required": ["outcome"],
		"properties": {
			"outcome": {},
			"fallback_summary": {"type": "string"}
		}
	}`,

	"preflight": `{
		"type": "object",
		"required": ["feature_name", "risk_class"],
		"properties": {
			"feature_name": {"type": "string", "minLength": 1},
			"timestamp": {"type": "string"},
			"declared_optimization_targets": {"type": "array", "items": {"type": "string"}},
			"intents_present": {"type": "boolean"},
			"append_only_preserved": {"type": "boolean"},
			"risk_class": {"enum": ["R0", "R1", "R2", "R3"]},
			"human_approved": {"type": "boolean"},
			"mock_mode": {"type": "boolean"}
		}
	}`,
}

// schemaSet holds the compiled request schemas, keyed by endpoint name.
type schemaSet struct {
	compiled map[string]*jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	set := &schemaSet{compiled: make(map[string]*jsonschema.Schema, len(rawSchemas))}
	for name, raw := range rawSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://tillerlabs.github.io/tiller/schemas/%s.schema.json", name)
		if err := c.AddResource(schemaURL, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("api: schema %s load failed: %w", name, err)
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("api: schema %s compile failed: %w", name, err)
		}
		set.compiled[name] = compiled
	}
	return set, nil
}

func (s *schemaSet) validate(name string, doc any) error {
	schema, ok := s.compiled[name]
	if !ok {
		return fmt.Errorf("api: no schema named %q", name)
	}
	return schema.Validate(doc)
}
