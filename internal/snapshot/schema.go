package snapshot

import "github.com/santhosh-tekuri/jsonschema/v5"

// envelopeSchemaJSON describes the top-level persisted document. It is
// deliberately permissive about unknown fields — the format carries no
// version field, so schema evolution must tolerate absent or extra
// properties. Only the structural shell is enforced here; per-message
// validation happens in Go with a validate-and-drop policy.
const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["messages", "savedAt"],
	"properties": {
		"messages": {
			"type": "array",
			"items": { "type": "object" }
		},
		"savedAt": { "type": "string" }
	}
}`

// envelopeSchema is compiled once at init; the schema text is a constant,
// so a compile failure is a programming error.
var envelopeSchema = jsonschema.MustCompileString("snapshot-envelope.json", envelopeSchemaJSON)
