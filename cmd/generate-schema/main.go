// Command generate-schema writes the JSON schema for ecquota's YAML config, so
// editors can validate quota, erasure coding and store settings.
//
// Usage: generate-schema [output-file]
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/ecquota/pkg/config"
)

func main() {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true, // policies and stores nest inline
	}

	schema := reflector.Reflect(&config.Config{})

	schema.Title = "ecquota Configuration"
	schema.Description = "Quota server settings: namespace, erasure coding policies, settings store, audit and metrics"
	schema.Version = "1.0.0"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: marshal: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: write %s: %v\n", outputFile, err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}
