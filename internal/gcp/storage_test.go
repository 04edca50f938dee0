package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PACKAGER_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("PACKAGER_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("PACKAGER_TEST_UNSET", "fallback"))

	t.Setenv("PACKAGER_TEST_EMPTY", "")
	assert.Equal(t, "", GetEnv("PACKAGER_TEST_EMPTY", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	n, err := GetEnvInt("PACKAGER_TEST_UNSET", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	t.Setenv("PACKAGER_TEST_INT", " 12 ")
	n, err = GetEnvInt("PACKAGER_TEST_INT", 7)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	t.Setenv("PACKAGER_TEST_INT", "twelve")
	_, err = GetEnvInt("PACKAGER_TEST_INT", 7)
	assert.ErrorContains(t, err, "PACKAGER_TEST_INT")
}

func TestGetEnvBool(t *testing.T) {
	b, err := GetEnvBool("PACKAGER_TEST_UNSET", true)
	require.NoError(t, err)
	assert.True(t, b)

	t.Setenv("PACKAGER_TEST_BOOL", "false")
	b, err = GetEnvBool("PACKAGER_TEST_BOOL", true)
	require.NoError(t, err)
	assert.False(t, b)

	t.Setenv("PACKAGER_TEST_BOOL", "maybe")
	_, err = GetEnvBool("PACKAGER_TEST_BOOL", true)
	assert.Error(t, err)
}
