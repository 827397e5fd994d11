package identity

import (
	"github.com/google/uuid"

	"dotbeacon/internal/protocol"
)

// Identity is how the dApp presents itself to paired wallets
type Identity struct {
	// SenderID is stable for the lifetime of the process and marks every relay message
	SenderID string
	Name     string
	IconURL  string
	AppURL   string
}

// New creates a new identity with a random sender ID
func New(name, iconURL, appURL string) *Identity {
	return &Identity{
		SenderID: uuid.NewString(),
		Name:     name,
		IconURL:  iconURL,
		AppURL:   appURL,
	}
}

// GetID returns the sender ID
func (i *Identity) GetID() string {
	if i == nil {
		return ""
	}
	return i.SenderID
}

// Metadata returns the identity in its wire form
func (i *Identity) Metadata() protocol.AppMetadata {
	return protocol.AppMetadata{
		SenderID: i.SenderID,
		Name:     i.Name,
		IconURL:  i.IconURL,
		AppURL:   i.AppURL,
	}
}
