package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const extractionSchemaJSON = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "error": {"type": ["string", "null"]},
    "data": {
      "type": ["object", "null"],
      "properties": {
        "vendor_name": {"type": ["string", "null"]},
        "vendor_vat": {"type": ["string", "null"]},
        "vendor_address": {"type": ["string", "null"]},
        "invoice_number": {"type": ["string", "null"]},
        "invoice_date": {"type": ["string", "null"]},
        "total_amount": {"type": ["number", "null"]},
        "net_amount": {"type": ["number", "null"]},
        "vat_amount": {"type": ["number", "null"]},
        "vat_rate": {"type": ["number", "null"]},
        "currency": {"type": ["string", "null"]},
        "country": {"type": ["string", "null"]},
        "category": {"type": ["string", "null"]},
        "raw_text": {"type": ["string", "null"]},
        "confidence": {"type": ["number", "null"]},
        "line_items": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "properties": {
              "description": {"type": ["string", "null"]},
              "quantity": {"type": ["number", "null"]},
              "unit_price": {"type": ["number", "null"]},
              "total": {"type": ["number", "null"]}
            }
          }
        }
      }
    }
  }
}`

const decisionSchemaJSON = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "error": {"type": ["string", "null"]},
    "data": {
      "type": ["object", "null"],
      "properties": {
        "eligibility": {"type": "string"},
        "refundable_amount": {"type": ["number", "null"]},
        "reasoning": {"type": ["string", "null"]},
        "confidence": {"type": ["number", "null"]},
        "rule_hits": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "properties": {
              "code": {"type": "string"},
              "title": {"type": "string"},
              "passed": {"type": "boolean"},
              "severity": {"type": "string"},
              "message": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var (
	extractionSchema = mustCompileSchema("extraction-response.json", extractionSchemaJSON)
	decisionSchema   = mustCompileSchema("decision-response.json", decisionSchemaJSON)
)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateResponse checks a response body against schema before it is decoded
func validateResponse(schema *jsonschema.Schema, raw []byte) error {
	if schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
