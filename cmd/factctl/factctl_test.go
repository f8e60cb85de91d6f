package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeyPerson(t *testing.T) {
	out, err := runCmd(t, "key", "person", "--email", " Jane.Doe@Acme.com ", "--first", "Jane", "--last", "Doe")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@acme.com\n", out)

	out, err = runCmd(t, "key", "person", "--first", "Jane", "--last", "Doe")
	require.NoError(t, err)
	assert.Equal(t, "name:jane_doe\n", out)
}

func TestKeyOrg(t *testing.T) {
	out, err := runCmd(t, "key", "org", "--domain", "https://www.acme.com/about", "--name", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "acme.com\n", out)

	out, err = runCmd(t, "key", "org", "--name", "Acme, Inc.")
	require.NoError(t, err)
	assert.Equal(t, "name:acme\n", out)
}

func TestDomain(t *testing.T) {
	out, err := runCmd(t, "domain", "founder@acme.io")
	require.NoError(t, err)
	assert.Equal(t, "acme.io\n", out)

	_, err = runCmd(t, "domain", "localhost")
	assert.ErrorContains(t, err, "no domain")
}

func TestSimilarity(t *testing.T) {
	out, err := runCmd(t, "similarity", "Jon Smith", "John Smith")
	require.NoError(t, err)
	assert.Contains(t, out, "0.9000")
	assert.Contains(t, out, "match")

	out, err = runCmd(t, "similarity", "--kind", "org", "Acme", "Globex")
	require.NoError(t, err)
	assert.Contains(t, out, "different")
	assert.Contains(t, out, "threshold 0.80")

	_, err = runCmd(t, "similarity", "--kind", "deal", "a", "b")
	assert.ErrorContains(t, err, "--kind")
}

func TestFactLifecycleAgainstSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	org := uuid.New().String()
	slot := []string{"--sqlite-path", dbPath, "--entity-type", "organization", "--entity-id", org, "--fact-type", "metric", "--key", "mrr"}
	add := func(value, source, confidence string) (string, error) {
		args := append([]string{"add"}, slot...)
		return runCmd(t, append(args, "--value", value, "--source", source, "--confidence", confidence)...)
	}

	out, err := add("50000", "attio", "0.9")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "NEW"), out)

	out, err = add("50000.00", "gmail", "0.8")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "DUPLICATE"), out)

	out, err = add("61000", "gmail", "0.9")
	assert.ErrorContains(t, err, "manual review")
	assert.Contains(t, out, "CONFLICT")
	assert.Contains(t, out, `existing  "50000" from attio`)

	out, err = add("61000", "gmail", "0.95")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "UPDATE"), out)
	assert.Contains(t, out, "supersedes")
	fields := strings.Fields(out)
	currentID := fields[3]

	out, err = runCmd(t, append([]string{"history"}, slot...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"61000"`)
	assert.Contains(t, lines[0], "current")
	assert.Contains(t, lines[1], `"50000"`)
	assert.Contains(t, lines[1], "until ")

	out, err = runCmd(t, "retire", "--sqlite-path", dbPath, currentID)
	require.NoError(t, err)
	assert.Equal(t, "retired "+currentID+"\n", out)

	out, err = runCmd(t, append([]string{"history"}, slot...)...)
	require.NoError(t, err)
	assert.NotContains(t, out, "current")

	_, err = runCmd(t, "retire", "--sqlite-path", dbPath, currentID)
	assert.Error(t, err, "a retired fact cannot be retired again")
}

func TestHistoryEmptySlot(t *testing.T) {
	out, err := runCmd(t, "history", "--sqlite-path", filepath.Join(t.TempDir(), "facts.db"),
		"--entity-type", "person", "--entity-id", uuid.New().String(), "--fact-type", "profile", "--key", "title")
	require.NoError(t, err)
	assert.Equal(t, "no facts recorded\n", out)
}

func TestInputErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")

	_, err := runCmd(t, "history", "--sqlite-path", dbPath,
		"--entity-type", "planet", "--entity-id", uuid.New().String(), "--fact-type", "metric", "--key", "mrr")
	assert.Error(t, err)

	_, err = runCmd(t, "retire", "--sqlite-path", dbPath, "not-a-uuid")
	assert.ErrorContains(t, err, "invalid fact id")

	_, err = runCmd(t, "add", "--sqlite-path", dbPath, "--entity-type", "organization")
	assert.ErrorContains(t, err, "required flag")

	_, err = runCmd(t, "migrate", "--sqlite-path", dbPath)
	assert.ErrorContains(t, err, "postgres storage only")
}
