package security

import (
	"testing"
	"time"
)

func TestJWTSignAndVerify(t *testing.T) {
	mgr := NewJWTManager("netplay", "netplay-api", "secret")

	raw, err := mgr.Sign("user-1", "player", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := mgr.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != "user-1" {
		t.Fatalf("unexpected subject %q", claims.UserID())
	}
	if claims.Role != "player" {
		t.Fatalf("unexpected role %q", claims.Role)
	}
}

func TestJWTVerifyRejects(t *testing.T) {
	mgr := NewJWTManager("netplay", "netplay-api", "secret")

	expired, err := mgr.Sign("user-1", "player", -time.Minute)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := mgr.Verify(expired); err == nil {
		t.Fatal("expected expired token rejection")
	}

	other := NewJWTManager("netplay", "netplay-api", "different-secret")
	forged, err := other.Sign("user-1", "player", time.Minute)
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	if _, err := mgr.Verify(forged); err == nil {
		t.Fatal("expected wrong-secret rejection")
	}

	wrongAudience := NewJWTManager("netplay", "other-api", "secret")
	mismatched, err := wrongAudience.Sign("user-1", "player", time.Minute)
	if err != nil {
		t.Fatalf("sign mismatched: %v", err)
	}
	if _, err := mgr.Verify(mismatched); err == nil {
		t.Fatal("expected audience rejection")
	}
}
