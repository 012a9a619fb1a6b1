package pg

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

const (
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength        = 8
	codeTTL           = 10 * time.Minute
	maxPendingPerAddr = 3
)

// PGPairingStore implements store.PairingStore backed by Postgres.
type PGPairingStore struct {
	db *sql.DB
}

func NewPGPairingStore(db *sql.DB) *PGPairingStore {
	return &PGPairingStore{db: db}
}

func (s *PGPairingStore) RequestPairing(clientName, remoteAddr string) (string, error) {
	if clientName == "" {
		return "", fmt.Errorf("client name required")
	}

	// Prune expired
	s.db.Exec("DELETE FROM pairing_requests WHERE expires_at < $1", time.Now())

	// Re-requesting returns the existing code
	var existingCode string
	err := s.db.QueryRow("SELECT code FROM pairing_requests WHERE client_name = $1", clientName).Scan(&existingCode)
	if err == nil {
		return existingCode, nil
	}

	var count int64
	s.db.QueryRow("SELECT COUNT(*) FROM pairing_requests WHERE remote_addr = $1", remoteAddr).Scan(&count)
	if count >= maxPendingPerAddr {
		return "", fmt.Errorf("max pending pairing requests (%d) exceeded", maxPendingPerAddr)
	}

	code := generatePairingCode()
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO pairing_requests (id, code, client_name, remote_addr, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.Must(uuid.NewV7()), code, clientName, remoteAddr, now.Add(codeTTL), now,
	)
	if err != nil {
		return "", fmt.Errorf("create pairing request: %w", err)
	}
	return code, nil
}

func (s *PGPairingStore) ApprovePairing(code, approvedBy string) (*store.PairedDeviceData, error) {
	// Prune expired
	s.db.Exec("DELETE FROM pairing_requests WHERE expires_at < $1", time.Now())

	var reqID uuid.UUID
	var clientName string
	err := s.db.QueryRow(
		"SELECT id, client_name FROM pairing_requests WHERE code = $1", code,
	).Scan(&reqID, &clientName)
	if err != nil {
		return nil, fmt.Errorf("pairing code %s not found or expired", code)
	}

	s.db.Exec("DELETE FROM pairing_requests WHERE id = $1", reqID)

	deviceID := uuid.Must(uuid.NewV7())
	token := generateDeviceToken()
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO paired_devices (id, client_name, token, paired_by, paired_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		deviceID, clientName, token, approvedBy, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create paired device: %w", err)
	}

	return &store.PairedDeviceData{
		ID:         deviceID.String(),
		ClientName: clientName,
		Token:      token,
		PairedAt:   now.UnixMilli(),
		PairedBy:   approvedBy,
	}, nil
}

func (s *PGPairingStore) RevokeDevice(deviceID string) error {
	id, err := uuid.Parse(deviceID)
	if err != nil {
		return fmt.Errorf("invalid device id: %s", deviceID)
	}
	result, err := s.db.Exec("DELETE FROM paired_devices WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("paired device not found: %s", deviceID)
	}
	return nil
}

func (s *PGPairingStore) ValidateToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	var clientName string
	err := s.db.QueryRow("SELECT client_name FROM paired_devices WHERE token = $1", token).Scan(&clientName)
	if err != nil {
		return "", false
	}
	return clientName, true
}

func (s *PGPairingStore) ListPending() []store.PairingRequestData {
	// Prune expired
	s.db.Exec("DELETE FROM pairing_requests WHERE expires_at < $1", time.Now())

	rows, err := s.db.Query(
		"SELECT code, client_name, remote_addr, created_at, expires_at FROM pairing_requests ORDER BY created_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var result []store.PairingRequestData
	for rows.Next() {
		var d store.PairingRequestData
		var createdAt, expiresAt time.Time
		if err := rows.Scan(&d.Code, &d.ClientName, &d.RemoteAddr, &createdAt, &expiresAt); err != nil {
			continue
		}
		d.CreatedAt = createdAt.UnixMilli()
		d.ExpiresAt = expiresAt.UnixMilli()
		result = append(result, d)
	}
	if result == nil {
		return []store.PairingRequestData{}
	}
	return result
}

func (s *PGPairingStore) ListPaired() []store.PairedDeviceData {
	rows, err := s.db.Query("SELECT id, client_name, token, paired_by, paired_at FROM paired_devices ORDER BY paired_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var result []store.PairedDeviceData
	for rows.Next() {
		var d store.PairedDeviceData
		var id uuid.UUID
		var pairedAt time.Time
		if err := rows.Scan(&id, &d.ClientName, &d.Token, &d.PairedBy, &pairedAt); err != nil {
			continue
		}
		d.ID = id.String()
		d.PairedAt = pairedAt.UnixMilli()
		result = append(result, d)
	}
	if result == nil {
		return []store.PairedDeviceData{}
	}
	return result
}

func generatePairingCode() string {
	b := make([]byte, codeLength)
	rand.Read(b)
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(code)
}

func generateDeviceToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
