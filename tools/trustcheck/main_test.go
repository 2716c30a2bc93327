package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleIsClean(t *testing.T) {
	violations, err := check("../..")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func fakeModule(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for _, pkg := range corePackages {
		require.NoError(t, os.MkdirAll(filepath.Join(root, pkg), 0o755))
	}
	for path, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, path), []byte(body), 0o644))
	}
	return root
}

func TestDetectsForbiddenImports(t *testing.T) {
	root := fakeModule(t, map[string]string{
		"pkg/crypto/leak.go":  "package crypto\n\nimport (\n\t\"fmt\"\n\t\"net/http\"\n)\n",
		"pkg/invariants/x.go": "package invariants\n\nimport \"github.com/Mindburn-Labs/avs/pkg/runner\"\n",
		// Tests may use anything.
		"pkg/crypto/leak_test.go": "package crypto\n\nimport \"database/sql\"\n",
	})

	violations, err := check(root)
	require.NoError(t, err)
	require.Len(t, violations, 2)
	assert.Equal(t, "pkg/crypto/leak.go", violations[0].File)
	assert.Equal(t, 5, violations[0].Line)
	assert.Equal(t, "net/http", violations[0].Import)
	assert.Equal(t, "avs/pkg/runner", violations[1].Fragment)

	var out bytes.Buffer
	assert.Equal(t, 1, run(root, &out, &out))
	assert.Contains(t, out.String(), "2 forbidden import(s)")
}

func TestMissingPackage(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, run(t.TempDir(), &out, &out))
}

func TestCleanRun(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 0, run(fakeModule(t, nil), &out, &out))
	assert.Contains(t, out.String(), "clean")
}
