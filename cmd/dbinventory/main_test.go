package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList(" 3, 1,,2 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	ids, err = parseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseIDList("1,x")
	assert.Error(t, err)

	_, err = parseID("0")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"sync"}, {"classify"}, {"user", "create"}, {"user", "reset-password"},
		{"apikey", "create"}, {"credential", "rotate"}, {"instance", "add"}, {"jobs", "run"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
