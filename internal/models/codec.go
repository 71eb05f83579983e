package models

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/starford/keloia/internal/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names, one per persisted JSON shape.
const (
	SchemaDocsIndex     = "docs_index.json"
	SchemaKanbanIndex   = "kanban_index.json"
	SchemaTask          = "task.json"
	SchemaProgressIndex = "progress_index.json"
	SchemaMilestone     = "milestone.json"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		names := []string{SchemaDocsIndex, SchemaKanbanIndex, SchemaTask, SchemaProgressIndex, SchemaMilestone}
		for _, name := range names {
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				schemasErr = fmt.Errorf("parse schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(name, doc); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			sch, err := c.Compile(name)
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = sch
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Decode validates data against the named schema and unmarshals it into v.
// Malformed or non-conforming content is reported as apperr.ErrInvalidState.
func Decode(schema string, data []byte, v any) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	sch, ok := all[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", apperr.ErrInvalidState, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrInvalidState, schema, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidState, err)
	}
	return nil
}

// Encode renders v as two-space indented JSON without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
