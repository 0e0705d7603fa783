package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed wire.schema.json
var wireSchemaJSON string

var (
	wireSchemaOnce sync.Once
	wireSchema     *jsonschema.Schema
	wireSchemaErr  error
)

func compiledWireSchema() (*jsonschema.Schema, error) {
	wireSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("wire.schema.json", strings.NewReader(wireSchemaJSON)); err != nil {
			wireSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		wireSchema, wireSchemaErr = compiler.Compile("wire.schema.json")
	})
	return wireSchema, wireSchemaErr
}

// ValidateWire checks a raw frame against the wire contract schema. Producers
// use it in tests and conformance tooling; the runtime decode path stays
// tolerant of extra fields.
func ValidateWire(raw []byte) error {
	schema, err := compiledWireSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
