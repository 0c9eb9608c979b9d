// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/httpapi"
)

func TestGenerate_WritesEverySchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas", "auth")

	written, err := generate(dir)
	require.NoError(t, err)
	require.Len(t, written, len(httpapi.SchemaNames()))

	for _, name := range httpapi.SchemaNames() {
		data, err := os.ReadFile(filepath.Join(dir, name+".schema.json"))
		require.NoError(t, err, name)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc), name)
		assert.Equal(t, httpapi.SchemaIDBase+name+".schema.json", doc["$id"])
	}
}
