package protocol

// AppMetadata identifies the dApp asking for permissions
type AppMetadata struct {
	SenderID string `json:"sender_id"`
	Name     string `json:"name"`
	IconURL  string `json:"icon_url,omitempty"`
	AppURL   string `json:"app_url,omitempty"`
}

// PermissionRequest asks the wallet to share an account with the dApp
type PermissionRequest struct {
	AppMetadata AppMetadata `json:"app_metadata"`
	Network     string      `json:"network,omitempty"`
	Scopes      []string    `json:"scopes"`
}

// PermissionResponse carries the account the wallet granted
type PermissionResponse struct {
	PublicKey     string   `json:"public_key"`
	Address       string   `json:"address,omitempty"`
	Network       string   `json:"network,omitempty"`
	Scopes        []string `json:"scopes"`
	WalletName    string   `json:"wallet_name,omitempty"`
	WalletVersion string   `json:"wallet_version"`
}

// SignPayloadRequest asks the wallet to sign an opaque hex payload
type SignPayloadRequest struct {
	Payload       string `json:"payload"`
	SourceAddress string `json:"source_address,omitempty"`
}

// SignPayloadResponse carries the signature over the requested payload
type SignPayloadResponse struct {
	Signature string `json:"signature"`
}

// Permission scopes
const (
	ScopeSignPayload = "sign_payload"
	ScopeTransfer    = "transfer"
)
