package config

import _ "embed"

// schemaJSON is the canonical JSON Schema the signed config file is
// validated against at startup, grounded on the teacher's
// jsonschema.NewCompiler/AddResource/Compile pattern
// (registry/service.go's validatePayloadJSONAgainstSchema).
//
//go:embed gateway-config.schema.json
var schemaJSON []byte
