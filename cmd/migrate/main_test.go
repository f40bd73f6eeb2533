package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParseArgs(t *testing.T) {
	var usage bytes.Buffer
	opts, err := parseArgs([]string{"-timeout", "5s", "up-to", "2"},
		env(map[string]string{"DATABASE_URL": "postgres://localhost/masumiguard"}), &usage)
	require.NoError(t, err)

	assert.Equal(t, "up-to", opts.command)
	assert.Equal(t, []string{"2"}, opts.args)
	assert.Equal(t, defaultMigrationsDir, opts.dir)
	assert.Equal(t, 5*time.Second, opts.timeout)
	assert.Empty(t, usage.String())
}

func TestParseArgs_DirFromEnvAndFlag(t *testing.T) {
	vars := map[string]string{"DATABASE_URL": "postgres://localhost/db", "MIGRATIONS_DIR": "/srv/migrations"}

	opts, err := parseArgs([]string{"status"}, env(vars), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/srv/migrations", opts.dir)

	opts, err = parseArgs([]string{"-dir", "./sql", "status"}, env(vars), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "./sql", opts.dir)
}

func TestParseArgs_Errors(t *testing.T) {
	withDB := env(map[string]string{"DATABASE_URL": "postgres://localhost/db"})

	var usage bytes.Buffer
	_, err := parseArgs(nil, withDB, &usage)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, usage.String(), "Tables: documents (progress), attestations (ledger)")

	_, err = parseArgs([]string{"up"}, env(nil), &bytes.Buffer{})
	assert.EqualError(t, err, "DATABASE_URL is required")

	_, err = parseArgs([]string{"-timeout", "0s", "up"}, withDB, &bytes.Buffer{})
	assert.EqualError(t, err, "timeout must be positive, got 0s")

	_, err = parseArgs([]string{"-bogus", "up"}, withDB, &bytes.Buffer{})
	assert.ErrorIs(t, err, errUsage)
}
