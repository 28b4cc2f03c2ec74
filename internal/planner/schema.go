package planner

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// taskGraphSchema is the canonical TaskGraph shape the planner LLM must
// produce. Validation runs before the stricter semantic checks (cycles,
// reference integrity) in taskgraph.Decode.
const taskGraphSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "kind", "prompt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {
            "enum": [
              "coding", "creative_writing", "professional_writing",
              "document_processing", "automation", "summarization",
              "data_analysis", "multimodal", "integration",
              "mathematical_reasoning", "realtime_social",
              "creative_insight", "general"
            ]
          },
          "prompt": {"type": "string", "minLength": 1},
          "inputs": {"type": "array", "items": {"type": "string"}},
          "criteria": {"type": "array", "items": {"type": "string"}},
          "features": {
            "type": "array",
            "items": {
              "enum": ["streaming", "long_context", "vision", "function_calling"]
            }
          },
          "min_context": {"type": "integer", "minimum": 0},
          "repair_budget": {"type": "integer", "minimum": 0},
          "terminal": {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiledTaskGraphSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("taskgraph.json", taskGraphSchema)
	})
	return compiledSchema, schemaErr
}
