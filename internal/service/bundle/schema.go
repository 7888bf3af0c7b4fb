package bundle

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	versionInfoSchemaFile = "schema/versionInfo.schema.json"
	releaseNoteSchemaFile = "schema/releaseNote.schema.json"
)

//go:embed schema/*.json
var schemaFS embed.FS

// documentSchemas holds the compiled schemas of the embedded bundle documents.
type documentSchemas struct {
	// versionInfo validates versionInfo.json.
	versionInfo *jsonschema.Schema
	// releaseNote validates releaseNote.json.
	releaseNote *jsonschema.Schema
}

func compileSchemas() (*documentSchemas, error) {
	versionInfo, err := compileSchema(versionInfoSchemaFile)
	if err != nil {
		return nil, err
	}

	releaseNote, err := compileSchema(releaseNoteSchemaFile)
	if err != nil {
		return nil, err
	}

	return &documentSchemas{
		versionInfo: versionInfo,
		releaseNote: releaseNote,
	}, nil
}

func compileSchema(file string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", file, err)
	}

	resourceID := "inmemory://" + file

	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return compiled, nil
}

// decodeValidated checks data against schema and decodes it into v.
func decodeValidated(schema *jsonschema.Schema, data []byte, v any) error {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	return nil
}
