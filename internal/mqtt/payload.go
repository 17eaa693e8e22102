package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"

	"gpio-go-home/internal/schema"
)

// Every command payload is a flat JSON object; field-level checks happen in
// the handlers so one bad key does not reject the rest.
var (
	schemaObject = json.RawMessage(`{"type":"object"}`)

	schemaGPIOConfigSet = json.RawMessage(`{
		"type": "object",
		"additionalProperties": {"type": "object"}
	}`)
)

// DecodeObject parses a command payload that must be a JSON object.
// Any failure wraps ErrMalformed.
func DecodeObject(v *schema.Validator, payload []byte) (map[string]any, error) {
	return decode(v, schemaObject, payload)
}

// DecodeGPIOConfig parses a gpio/config/set payload.
func DecodeGPIOConfig(v *schema.Validator, payload []byte) (map[string]any, error) {
	return decode(v, schemaGPIOConfigSet, payload)
}

func decode(v *schema.Validator, schemaDoc json.RawMessage, payload []byte) (map[string]any, error) {
	value, err := v.DecodeAndValidate(schemaDoc, payload)
	if err != nil {
		if errors.Is(err, schema.ErrMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object", ErrMalformed)
	}
	return obj, nil
}
