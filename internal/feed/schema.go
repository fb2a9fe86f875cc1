package feed

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Inbound websocket frames are validated before dispatch so a malformed or
// hostile frame degrades to a dropped event instead of corrupting the store.
const eventSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["table", "action", "record"],
  "properties": {
    "table": {
      "type": "string",
      "enum": ["telejornais", "blocos", "materias", "edicoes"]
    },
    "action": {
      "type": "string",
      "enum": ["insert", "update", "delete"]
    },
    "record": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1}
      }
    }
  },
  "additionalProperties": false
}`

var (
	eventSchemaOnce sync.Once
	eventSchema     *jsonschema.Schema
	eventSchemaErr  error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(eventSchemaJSON)))
		if err != nil {
			eventSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("feed-event.json", doc); err != nil {
			eventSchemaErr = err
			return
		}
		eventSchema, eventSchemaErr = compiler.Compile("feed-event.json")
	})
	return eventSchema, eventSchemaErr
}

// ValidateFrame checks a raw wire frame against the event schema.
func ValidateFrame(frame []byte) error {
	schema, err := compiledEventSchema()
	if err != nil {
		return fmt.Errorf("compile event schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("decode event frame: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid event frame: %w", err)
	}
	return nil
}
