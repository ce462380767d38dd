package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflector inlines every definition so the schema has no $ref.
var reflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// JSONSchema returns the JSON Schema of the configuration file, for editors
// and settings screens.
func JSONSchema() (json.RawMessage, error) {
	s := reflector.Reflect(&Config{})
	s.Title = "quill configuration"
	return json.MarshalIndent(s, "", "  ")
}
