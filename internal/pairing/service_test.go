package pairing

import (
	"path/filepath"
	"strings"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(filepath.Join(t.TempDir(), "pairing.json"))
}

func TestRequestPairingGeneratesCode(t *testing.T) {
	svc := newTestService(t)

	code, err := svc.RequestPairing("laptop", "192.168.1.5")
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}
	if len(code) != CodeLength {
		t.Errorf("code length = %d, want %d", len(code), CodeLength)
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeAlphabet, c) {
			t.Errorf("code %q contains character outside alphabet", code)
		}
	}
}

func TestRequestPairingIsIdempotentPerClient(t *testing.T) {
	svc := newTestService(t)

	first, _ := svc.RequestPairing("laptop", "192.168.1.5")
	second, _ := svc.RequestPairing("laptop", "192.168.1.5")
	if first != second {
		t.Errorf("retry got new code: %q vs %q", first, second)
	}
}

func TestMaxPendingPerAddr(t *testing.T) {
	svc := newTestService(t)

	for i := 0; i < MaxPendingPerAddr; i++ {
		name := strings.Repeat("x", i+1)
		if _, err := svc.RequestPairing(name, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if _, err := svc.RequestPairing("one-too-many", "10.0.0.1"); err == nil {
		t.Fatal("expected max pending error")
	}
}

func TestApproveIssuesValidToken(t *testing.T) {
	svc := newTestService(t)

	code, _ := svc.RequestPairing("laptop", "192.168.1.5")
	dev, err := svc.ApprovePairing(code, "operator")
	if err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}
	if dev.Token == "" {
		t.Fatal("no token issued")
	}

	name, ok := svc.ValidateToken(dev.Token)
	if !ok || name != "laptop" {
		t.Errorf("ValidateToken = (%q, %v), want (laptop, true)", name, ok)
	}

	// Code is consumed
	if _, err := svc.ApprovePairing(code, "operator"); err == nil {
		t.Error("expected error approving a consumed code")
	}
	if len(svc.ListPending()) != 0 {
		t.Error("pending list not cleared after approval")
	}
}

func TestRevokeInvalidatesToken(t *testing.T) {
	svc := newTestService(t)

	code, _ := svc.RequestPairing("laptop", "192.168.1.5")
	dev, _ := svc.ApprovePairing(code, "operator")

	if err := svc.RevokeDevice(dev.ID); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}
	if _, ok := svc.ValidateToken(dev.Token); ok {
		t.Error("token still valid after revoke")
	}
	if err := svc.RevokeDevice(dev.ID); err == nil {
		t.Error("expected error revoking unknown device")
	}
}

func TestStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.json")

	svc := NewService(path)
	code, _ := svc.RequestPairing("laptop", "192.168.1.5")
	dev, _ := svc.ApprovePairing(code, "operator")

	reloaded := NewService(path)
	if name, ok := reloaded.ValidateToken(dev.Token); !ok || name != "laptop" {
		t.Errorf("token not persisted across restart: (%q, %v)", name, ok)
	}
}
