package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOfflineCommandsSkipDatabase(t *testing.T) {
	var out bytes.Buffer
	dir := t.TempDir()

	require.NoError(t, run("create", options{dir: dir, name: "add store hours", out: &out}))
	assert.Contains(t, out.String(), "_add_store_hours.sql")

	out.Reset()
	require.NoError(t, run("validate", options{dir: dir, out: &out}))
	assert.Contains(t, out.String(), "1 migrations")
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run("sideways", options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestCreateNeedsName(t *testing.T) {
	assert.Error(t, run("create", options{dir: t.TempDir()}))
}
