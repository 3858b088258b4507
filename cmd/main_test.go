package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInspectQuery(t *testing.T) {
	out, err := run(t, "inspect", "--query", "SELECT 1", "--datasource", "mz1", "--statement", "tail")
	require.NoError(t, err)
	require.Contains(t, out, "path:       tail/query/b1698e52a0f16203489454196a0c6307\n")
	require.Contains(t, out, "channel:    ds/mz1/tail/query/b1698e52a0f16203489454196a0c6307\n")
	require.Contains(t, out, "snapshot:   SELECT 1\n")
	require.Contains(t, out, "changefeed: TAIL (SELECT 1) WITH (SNAPSHOT = false)\n")
}

func TestInspectRelation(t *testing.T) {
	out, err := run(t, "inspect", "--relation", "my_table")
	require.NoError(t, err)
	require.Contains(t, out, "snapshot:   SELECT * FROM my_table\n")
	require.Contains(t, out, "changefeed: SUBSCRIBE my_table WITH (SNAPSHOT = false)\n")
}

func TestInspectRejects(t *testing.T) {
	_, err := run(t, "inspect")
	require.Error(t, err)
	_, err = run(t, "inspect", "--relation", "a;b")
	require.Error(t, err)
	_, err = run(t, "inspect", "--relation", "a", "--query", "SELECT 1")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, "mzlive dev\n", out)
}
