// Package pairing implements client pairing for serve mode.
//
// When an unauthenticated client asks to connect, the server:
//  1. Generates an 8-character alphanumeric pairing code
//  2. Shows the code in the serve console (and as a QR when requested)
//  3. Operator approves with "tatty serve pair CODE"
//  4. The client receives a device token for Authorization: Bearer
//
// Pairing codes use the alphabet ABCDEFGHJKLMNPQRSTUVWXYZ23456789
// (no ambiguous characters: 0, O, 1, I, L).
// Codes expire after 10 minutes. Max 3 pending codes per remote address.
package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I, L).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 8
	// CodeTTL is how long a pairing code remains valid.
	CodeTTL = 10 * time.Minute
	// MaxPendingPerAddr is the max number of pending codes per remote address.
	MaxPendingPerAddr = 3
)

// PairingRequest represents a pending pairing code.
type PairingRequest struct {
	Code       string `json:"code"`
	ClientName string `json:"client_name"`
	RemoteAddr string `json:"remote_addr"`
	CreatedAt  int64  `json:"created_at"` // unix millis
	ExpiresAt  int64  `json:"expires_at"` // unix millis
}

// PairedDevice represents an approved client.
type PairedDevice struct {
	ID         string `json:"id"`
	ClientName string `json:"client_name"`
	Token      string `json:"token"`
	PairedAt   int64  `json:"paired_at"` // unix millis
	PairedBy   string `json:"paired_by"` // who approved
}

// Store is the persistent store for pairing data.
type Store struct {
	Pending []PairingRequest `json:"pending"`
	Paired  []PairedDevice   `json:"paired"`
}

// Service manages pairing codes and approved devices.
type Service struct {
	storePath string
	store     Store
	mu        sync.Mutex
}

// NewService creates a new pairing service.
// storePath is the path to the JSON file for persistence (e.g. ~/.tatty/pairing.json).
func NewService(storePath string) *Service {
	s := &Service{
		storePath: storePath,
	}
	s.load()
	return s
}

// RequestPairing generates a new pairing code for a client.
// Returns the generated code or an error if max pending codes exceeded.
func (s *Service) RequestPairing(clientName, remoteAddr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired()

	count := 0
	for _, req := range s.store.Pending {
		if req.RemoteAddr == remoteAddr {
			count++
		}
	}
	if count >= MaxPendingPerAddr {
		return "", fmt.Errorf("max pending pairing requests (%d) exceeded for %s", MaxPendingPerAddr, remoteAddr)
	}

	// A client retrying keeps its existing code
	for _, req := range s.store.Pending {
		if req.ClientName == clientName && req.RemoteAddr == remoteAddr {
			return req.Code, nil
		}
	}

	code := generateCode()
	now := time.Now()

	req := PairingRequest{
		Code:       code,
		ClientName: clientName,
		RemoteAddr: remoteAddr,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(CodeTTL).UnixMilli(),
	}

	s.store.Pending = append(s.store.Pending, req)
	s.save()

	slog.Info("pairing code generated",
		"code", code,
		"client", clientName,
		"remote", remoteAddr,
	)

	return code, nil
}

// ApprovePairing validates a code, issues a device token and moves the
// client to the paired list. Returns an error if the code is invalid or
// expired.
func (s *Service) ApprovePairing(code, approvedBy string) (*PairedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired()

	for i, req := range s.store.Pending {
		if req.Code != code {
			continue
		}

		s.store.Pending = append(s.store.Pending[:i], s.store.Pending[i+1:]...)

		paired := PairedDevice{
			ID:         generateCode(),
			ClientName: req.ClientName,
			Token:      generateToken(),
			PairedAt:   time.Now().UnixMilli(),
			PairedBy:   approvedBy,
		}
		s.store.Paired = append(s.store.Paired, paired)
		s.save()

		slog.Info("pairing approved",
			"client", req.ClientName,
			"device", paired.ID,
			"approved_by", approvedBy,
		)

		return &paired, nil
	}

	return nil, fmt.Errorf("pairing code %s not found or expired", code)
}

// RevokeDevice removes a paired device by ID, invalidating its token.
func (s *Service) RevokeDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.store.Paired {
		if p.ID == deviceID {
			s.store.Paired = append(s.store.Paired[:i], s.store.Paired[i+1:]...)
			s.save()
			slog.Info("pairing revoked", "device", deviceID, "client", p.ClientName)
			return nil
		}
	}
	return fmt.Errorf("paired device not found: %s", deviceID)
}

// ValidateToken reports whether a device token belongs to a paired
// client and returns the client name.
func (s *Service) ValidateToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.store.Paired {
		if p.Token == token {
			return p.ClientName, true
		}
	}
	return "", false
}

// ListPending returns all pending pairing requests.
func (s *Service) ListPending() []PairingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired()

	result := make([]PairingRequest, len(s.store.Pending))
	copy(result, s.store.Pending)
	return result
}

// ListPaired returns all paired devices.
func (s *Service) ListPaired() []PairedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]PairedDevice, len(s.store.Paired))
	copy(result, s.store.Paired)
	return result
}

// --- Internal ---

func (s *Service) pruneExpired() {
	now := time.Now().UnixMilli()
	var valid []PairingRequest
	for _, req := range s.store.Pending {
		if req.ExpiresAt > now {
			valid = append(valid, req)
		}
	}
	s.store.Pending = valid
}

func (s *Service) load() {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		return // file doesn't exist yet
	}
	json.Unmarshal(data, &s.store)
}

func (s *Service) save() {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		slog.Error("pairing: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		slog.Error("pairing: failed to marshal store", "error", err)
		return
	}
	if err := os.WriteFile(s.storePath, data, 0600); err != nil {
		slog.Error("pairing: failed to write store", "error", err)
	}
}

func generateCode() string {
	b := make([]byte, CodeLength)
	rand.Read(b)
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code)
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
