// Generates JSON Schemas for the YAML pipeline configuration and the
// JSONL document records, for editor completion and external tooling.
//
// Run from the repository root: go run ./tools/schema-generator
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

func main() {
	cfgReflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   "yaml",
	}
	schema := cfgReflector.Reflect(&config.Config{})
	schema.Title = "docpipe pipeline configuration"
	schema.Description = "Schema for the YAML file the pipeline commands read."
	writeSchema("docpipe.schema.json", schema)

	docReflector := &jsonschema.Reflector{ExpandedStruct: true}
	docSchema := docReflector.Reflect(&pipeline.Document{})
	docSchema.Title = "docpipe document record"
	docSchema.Description = "Schema for one line of the JSONL shards the document commands write."
	writeSchema("document.schema.json", docSchema)
}

func writeSchema(path string, schema *jsonschema.Schema) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("marshal schema: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	log.Printf("wrote %s", path)
}
