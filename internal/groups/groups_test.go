package groups

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[groups]
semis = ["005930", "000660", " 005930 "]
ai    = ["000660", "035420"]

[names]
005930 = "Samsung Electronics"
`

func TestParse_InvertsMap(t *testing.T) {
	m, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"ai", "semis"}, m.Groups())
	assert.Equal(t, []string{"005930", "000660"}, m.Members("semis"))
	assert.Equal(t, []string{"ai", "semis"}, m.GroupsOf("000660"))
	assert.Equal(t, []string{"semis"}, m.GroupsOf("005930"))
	assert.Nil(t, m.GroupsOf("999999"))
	assert.Equal(t, []string{"000660", "005930", "035420"}, m.Symbols())
	assert.Equal(t, 4, m.Relations())
	assert.Equal(t, "Samsung Electronics", m.Name("005930"))
	assert.Equal(t, "035420", m.Name("035420"))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("[groups\nbroken"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Symbols(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	m := Empty()
	assert.Empty(t, m.Symbols())
	assert.Empty(t, m.Groups())
	assert.Equal(t, 0, m.Relations())
}
