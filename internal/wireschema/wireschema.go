// Package wireschema validates wire payloads against JSON Schema before
// they are handed to a typed decode, so a malformed peer fails with a
// precise field-level error rather than an opaque json.Unmarshal
// mismatch. The manifest store file is validated separately, by
// internal/manifest.
//
// It generalizes the teacher's internal/schema Registry/Schema pattern
// (entryType -> compiled gojsonschema.Schema) onto wire payload types.
package wireschema

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds one compiled schema per payload type tag.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry returns a Registry pre-loaded with schemas for every wire
// payload type defined by the transport protocol.
func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: make(map[string]*gojsonschema.Schema)}
	for payloadType, def := range builtinSchemas {
		if err := r.register(payloadType, def); err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", payloadType, err)
		}
	}
	return r, nil
}

func (r *Registry) register(payloadType, definition string) error {
	loader := gojsonschema.NewStringLoader(definition)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[payloadType] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks raw JSON bytes against the schema registered for
// payloadType. An unrecognized payload type passes through unvalidated
// (the caller's typed decode will reject it).
func (r *Registry) Validate(payloadType string, raw []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[payloadType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate %s payload: %w", payloadType, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%s payload failed schema validation: %v", payloadType, result.Errors())
	}
	return nil
}

var builtinSchemas = map[string]string{
	"hello": `{
		"type": "object",
		"required": ["peer_id", "display_name", "endpoint"],
		"properties": {
			"peer_id": {"type": "string", "minLength": 1},
			"display_name": {"type": "string"},
			"endpoint": {"type": "string", "minLength": 1}
		}
	}`,
	"hello_ack": `{
		"type": "object",
		"required": ["peer_id", "display_name", "endpoint", "peers"],
		"properties": {
			"peer_id": {"type": "string", "minLength": 1},
			"display_name": {"type": "string"},
			"endpoint": {"type": "string"},
			"peers": {"type": "array"}
		}
	}`,
	"state_request": `{"type": "object"}`,
	"state_response": `{
		"type": "object",
		"required": ["peer_id", "display_name", "endpoint", "state"],
		"properties": {
			"peer_id": {"type": "string", "minLength": 1},
			"display_name": {"type": "string"},
			"endpoint": {"type": "string"},
			"state": {"type": "object"}
		}
	}`,
	"file_request": `{
		"type": "object",
		"required": ["key"],
		"properties": {
			"key": {"type": "string", "minLength": 1}
		}
	}`,
	"file_response": `{
		"type": "object",
		"required": ["key", "found"],
		"properties": {
			"key": {"type": "string"},
			"found": {"type": "boolean"},
			"sha256": {"type": ["string", "null"]},
			"bytes_b64": {"type": ["string", "null"]},
			"message": {"type": ["string", "null"]}
		}
	}`,
	"error": `{
		"type": "object",
		"required": ["ok", "error"],
		"properties": {
			"ok": {"type": "boolean"},
			"error": {"type": "string"}
		}
	}`,
}
