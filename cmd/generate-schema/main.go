package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/cloudstore/pkg/config"
)

func main() {
	output := flag.String("output", "config.schema.json", "Schema file to write ('-' for stdout)")
	check := flag.Bool("check", false, "Fail if the schema file is missing or out of date instead of writing it")
	flag.Parse()

	schemaJSON, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *check:
		current, err := os.ReadFile(*output)
		if err != nil || !bytes.Equal(current, schemaJSON) {
			fmt.Fprintf(os.Stderr, "%s is out of date, run generate-schema\n", *output)
			os.Exit(1)
		}
		fmt.Printf("%s is up to date\n", *output)

	case *output == "-":
		_, _ = os.Stdout.Write(schemaJSON)

	default:
		if err := os.WriteFile(*output, schemaJSON, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("JSON schema written to %s\n", *output)
	}
}

// generate reflects config.Config with property names taken from the yaml
// tags and the values of `cloudstore init` as defaults.
func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "cloudstore configuration"
	schema.Description = "Configuration file of the cloudstore server (config.yaml)"
	schema.Version = "1.0.0"

	defaults, err := defaultValues()
	if err != nil {
		return nil, err
	}
	setDefaults(schema, defaults)

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(schemaJSON, '\n'), nil
}

// defaultValues renders the default configuration through its yaml form, so
// byte sizes appear as they would in config.yaml ("100 MiB").
func defaultValues() (map[string]any, error) {
	data, err := yaml.Marshal(config.GetDefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode default config: %w", err)
	}
	return values, nil
}

func setDefaults(schema *jsonschema.Schema, values map[string]any) {
	if schema.Properties == nil {
		return
	}
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		value, ok := values[pair.Key]
		if !ok || value == nil {
			continue
		}
		if nested, isMap := value.(map[string]any); isMap {
			setDefaults(pair.Value, nested)
			continue
		}
		pair.Value.Default = value
	}
}
