package store

// PairingRequestData represents a pending pairing code.
type PairingRequestData struct {
	Code       string `json:"code"`
	ClientName string `json:"client_name"`
	RemoteAddr string `json:"remote_addr"`
	CreatedAt  int64  `json:"created_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// PairedDeviceData represents an approved client.
type PairedDeviceData struct {
	ID         string `json:"id"`
	ClientName string `json:"client_name"`
	Token      string `json:"token"`
	PairedAt   int64  `json:"paired_at"`
	PairedBy   string `json:"paired_by"`
}

// PairingStore manages serve-mode client pairing.
type PairingStore interface {
	RequestPairing(clientName, remoteAddr string) (string, error)
	ApprovePairing(code, approvedBy string) (*PairedDeviceData, error)
	RevokeDevice(deviceID string) error
	ValidateToken(token string) (clientName string, ok bool)
	ListPending() []PairingRequestData
	ListPaired() []PairedDeviceData
}
