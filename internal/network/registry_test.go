package network

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	r, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	assert.Equal(t, "westend", r.Default().Value)
	assert.Len(t, r.All(), 3)

	dot, ok := r.Find("dot")
	require.True(t, ok)
	assert.Equal(t, uint16(0), dot.Prefix)
	assert.Equal(t, uint16(0), dot.Codec().Prefix())

	ksm, ok := r.Find("ksm")
	require.True(t, ok)
	assert.Equal(t, uint16(2), ksm.Prefix)

	_, ok = r.Find("rococo")
	assert.False(t, ok)
}

func TestNewRegistryErrors(t *testing.T) {
	_, err := NewRegistry()
	assert.Error(t, err)

	_, err = NewRegistry(Network{Name: "x", Value: "x"})
	assert.Error(t, err, "missing url")

	n := Defaults()[0]
	_, err = NewRegistry(n, n)
	assert.Error(t, err, "duplicate")
}

func TestAllReturnsCopy(t *testing.T) {
	r, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	all := r.All()
	all[0].Name = "changed"
	assert.Equal(t, "Westend", r.Default().Name)
}

func TestLoadFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	content := `networks:
  - name: Westend
    value: westend
    prefix: 42
    url: ws://127.0.0.1:9944
  - name: Rococo
    value: rococo
    prefix: 42
    url: wss://rococo-rpc.polkadot.io
    disabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	r, err := NewRegistry(Defaults()...)
	require.NoError(t, err)
	require.NoError(t, r.Merge(loaded))

	westend, ok := r.Find("westend")
	require.True(t, ok)
	assert.Equal(t, "ws://127.0.0.1:9944", westend.URL)

	rococo, ok := r.Find("rococo")
	require.True(t, ok)
	assert.True(t, rococo.Disabled)
	assert.Len(t, r.All(), 4)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("networks:\n  - name: NoURL\n    value: nourl\n"), 0600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
