package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"roachy-battlesync/internal/api"
)

// Writes the JSON schema of the battle API's match payload, the loose shape
// the normalizer accepts.
func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema (stdout when empty)")
	flag.Parse()

	data, err := json.MarshalIndent(buildSchema(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal schema: %v\n", err)
		os.Exit(1)
	}
	data = append(data, '\n')

	if outPath == "" {
		os.Stdout.Write(data)
		return
	}
	if err := writeSchema(outPath, data); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

var flexIntType = reflect.TypeOf(api.FlexInt{})

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t != flexIntType {
				return nil
			}
			return &jsonschema.Schema{
				Description: "integer, numeric string or null",
				OneOf: []*jsonschema.Schema{
					{Type: "number"},
					{Type: "string", Pattern: `^\s*-?[0-9]+(\.[0-9]+)?\s*$`},
					{Type: "null"},
				},
			}
		},
	}
	schema := reflector.Reflect(new(api.MatchResponse))
	schema.Title = "Roachy Battle Match"
	schema.Description = "Response of GET /api/battles/match/{matchId}"
	return schema
}

func writeSchema(outPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
