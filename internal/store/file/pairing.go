package file

import (
	"github.com/nextlevelbuilder/tatty/internal/pairing"
	"github.com/nextlevelbuilder/tatty/internal/store"
)

// FilePairingStore wraps pairing.Service to implement store.PairingStore.
type FilePairingStore struct {
	svc *pairing.Service
}

func NewFilePairingStore(svc *pairing.Service) *FilePairingStore {
	return &FilePairingStore{svc: svc}
}

// Service returns the underlying pairing.Service for direct access.
func (f *FilePairingStore) Service() *pairing.Service { return f.svc }

func (f *FilePairingStore) RequestPairing(clientName, remoteAddr string) (string, error) {
	return f.svc.RequestPairing(clientName, remoteAddr)
}

func (f *FilePairingStore) ApprovePairing(code, approvedBy string) (*store.PairedDeviceData, error) {
	pd, err := f.svc.ApprovePairing(code, approvedBy)
	if err != nil {
		return nil, err
	}
	return &store.PairedDeviceData{
		ID:         pd.ID,
		ClientName: pd.ClientName,
		Token:      pd.Token,
		PairedAt:   pd.PairedAt,
		PairedBy:   pd.PairedBy,
	}, nil
}

func (f *FilePairingStore) RevokeDevice(deviceID string) error {
	return f.svc.RevokeDevice(deviceID)
}

func (f *FilePairingStore) ValidateToken(token string) (string, bool) {
	return f.svc.ValidateToken(token)
}

func (f *FilePairingStore) ListPending() []store.PairingRequestData {
	items := f.svc.ListPending()
	result := make([]store.PairingRequestData, len(items))
	for i, item := range items {
		result[i] = store.PairingRequestData{
			Code:       item.Code,
			ClientName: item.ClientName,
			RemoteAddr: item.RemoteAddr,
			CreatedAt:  item.CreatedAt,
			ExpiresAt:  item.ExpiresAt,
		}
	}
	return result
}

func (f *FilePairingStore) ListPaired() []store.PairedDeviceData {
	items := f.svc.ListPaired()
	result := make([]store.PairedDeviceData, len(items))
	for i, item := range items {
		result[i] = store.PairedDeviceData{
			ID:         item.ID,
			ClientName: item.ClientName,
			Token:      item.Token,
			PairedAt:   item.PairedAt,
			PairedBy:   item.PairedBy,
		}
	}
	return result
}
