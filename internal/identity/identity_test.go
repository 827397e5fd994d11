package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a := New("Polkadot Example", "https://example.com/icon.png", "https://example.com")
	b := New("Polkadot Example", "", "")

	assert.NotEmpty(t, a.GetID())
	assert.NotEqual(t, a.GetID(), b.GetID())

	meta := a.Metadata()
	assert.Equal(t, a.SenderID, meta.SenderID)
	assert.Equal(t, "Polkadot Example", meta.Name)
	assert.Equal(t, "https://example.com/icon.png", meta.IconURL)
	assert.Equal(t, "https://example.com", meta.AppURL)
}

func TestNilIdentity(t *testing.T) {
	var id *Identity
	assert.Empty(t, id.GetID())
}
