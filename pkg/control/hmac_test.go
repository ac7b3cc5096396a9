package control

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func TestVerifySignedRequest(t *testing.T) {
	const secret = "whsec_test"
	body := []byte(`{"type":"ping"}`)
	now := time.Unix(1700000000, 0)
	ts := fmt.Sprintf("%d", now.Unix())
	raw := SignEnvelope(secret, ts, body)

	t.Run("hex signature", func(t *testing.T) {
		if err := VerifySignedRequest(secret, ts, body, hex.EncodeToString(raw), now, 0); err != nil {
			t.Fatalf("verify: %v", err)
		}
	})
	t.Run("base64 signature", func(t *testing.T) {
		if err := VerifySignedRequest(secret, ts, body, base64.StdEncoding.EncodeToString(raw), now, 0); err != nil {
			t.Fatalf("verify: %v", err)
		}
	})
	t.Run("prefixed signature", func(t *testing.T) {
		if err := VerifySignedRequest(secret, ts, body, "sha256="+hex.EncodeToString(raw), now, 0); err != nil {
			t.Fatalf("verify: %v", err)
		}
	})

	t.Run("flipped body byte", func(t *testing.T) {
		bad := append([]byte(nil), body...)
		bad[0] ^= 0x01
		if err := VerifySignedRequest(secret, ts, bad, hex.EncodeToString(raw), now, 0); err == nil {
			t.Fatal("tampered body must fail")
		}
	})
	t.Run("wrong secret", func(t *testing.T) {
		if err := VerifySignedRequest("other", ts, body, hex.EncodeToString(raw), now, 0); err == nil {
			t.Fatal("wrong secret must fail")
		}
	})
	t.Run("timestamp too old", func(t *testing.T) {
		late := now.Add(400 * time.Second)
		if err := VerifySignedRequest(secret, ts, body, hex.EncodeToString(raw), late, 300*time.Second); err == nil {
			t.Fatal("stale timestamp must fail")
		}
	})
	t.Run("timestamp in the future", func(t *testing.T) {
		early := now.Add(-400 * time.Second)
		if err := VerifySignedRequest(secret, ts, body, hex.EncodeToString(raw), early, 300*time.Second); err == nil {
			t.Fatal("future timestamp must fail")
		}
	})
	t.Run("garbage signature", func(t *testing.T) {
		if err := VerifySignedRequest(secret, ts, body, "not-a-signature", now, 0); err == nil {
			t.Fatal("undecodable signature must fail")
		}
	})
	t.Run("garbage timestamp", func(t *testing.T) {
		if err := VerifySignedRequest(secret, "yesterday", body, hex.EncodeToString(raw), now, 0); err == nil {
			t.Fatal("non-numeric timestamp must fail")
		}
	})
}

func TestTokenEqual(t *testing.T) {
	if !TokenEqual("abc", "abc") {
		t.Fatal("equal tokens")
	}
	if TokenEqual("abc", "abd") {
		t.Fatal("unequal tokens")
	}
	if TokenEqual("", "") {
		t.Fatal("empty tokens must never match")
	}
}
