package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()

	for _, path := range [][]string{{"serve"}, {"version"}, {"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "omniplex dev\n", out.String())
}

func TestParseSteps(t *testing.T) {
	n, err := parseSteps(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = parseSteps([]string{"3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = parseSteps([]string{"0"})
	assert.Error(t, err)
	_, err = parseSteps([]string{"x"})
	assert.Error(t, err)
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"migrate", "down", "abc"})
	assert.ErrorContains(t, root.Execute(), "positive integer")
}
