// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Command gen-schema writes the JSON Schema of every auth request body.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/httpapi"
)

func main() {
	written, err := generate(filepath.Join("schemas", "auth"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schemas: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Printf("Generated %s\n", path)
	}
}

// generate writes one <name>.schema.json per request schema into dir and
// returns the paths written.
func generate(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, oops.Code("SCHEMA_WRITE_FAILED").With("dir", dir).Wrap(err)
	}

	var written []string
	for _, name := range httpapi.SchemaNames() {
		schema, err := httpapi.GenerateSchema(name)
		if err != nil {
			return written, err
		}
		outPath := filepath.Join(dir, name+".schema.json")
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			return written, oops.Code("SCHEMA_WRITE_FAILED").With("path", outPath).Wrap(err)
		}
		written = append(written, outPath)
	}
	return written, nil
}
