/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package main generates a JSON schema for the containmint configuration file.
// The generated schema enables IDE autocompletion and validation for config.yaml.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/cowdogmoo/containmint/config"
)

// schemaID identifies the generated schema.
const schemaID = "https://github.com/cowdogmoo/containmint/schema/config.json"

var (
	output = flag.String("o", "schema/containmint-config.json", "Output path for JSON schema")
	source = flag.String("src", "./", "Module root to read type comments from")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}

	// Type-level doc comments; field-level descriptions come from the
	// jsonschema struct tags.
	if err := reflector.AddGoComments("github.com/cowdogmoo/containmint", *source); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to extract type-level comments: %v\n", err)
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = jsonschema.ID(schemaID)
	schema.Title = "Containmint Configuration"
	schema.Description = "Schema for the containmint config.yaml file"
	if schema.Extras == nil {
		schema.Extras = make(map[string]interface{})
	}
	schema.Extras["envPrefix"] = config.EnvPrefix

	schema.Examples = []interface{}{
		map[string]interface{}{
			"log": map[string]interface{}{
				"level":  "info",
				"format": "color",
			},
			"broker": map[string]interface{}{
				"provider":      "ec2",
				"lease_timeout": "15m",
			},
			"aws": map[string]interface{}{
				"region": "us-east-1",
				"instance_types": map[string]string{
					"x86_64":  "m6i.large",
					"aarch64": "m6g.large",
				},
			},
			"build": map[string]interface{}{
				"default_remote": "rhel/9.2",
				"default_arch":   "aarch64",
			},
			"merge": map[string]interface{}{
				"backend": "registry",
			},
		},
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Append newline to satisfy end-of-file-fixer
	data = append(data, '\n')
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}

	fmt.Printf("✓ Generated JSON schema: %s\n", *output)
	return nil
}
