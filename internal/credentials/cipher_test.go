package credentials

import (
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RejectsBadKeys(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := New("zz"); err == nil {
		t.Fatalf("expected error for non-hex key")
	}
	// 16 bytes, valid hex but wrong length
	if _, err := New("000102030405060708090a0b0c0d0e0f"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestRoundTrip(t *testing.T) {
	c := newCipher(t)

	cases := []string{
		"",
		"hunter2",
		"päßwörd ❄ \t\n\x00 end",
		strings.Repeat("long-secret-", 100), // > 1000 chars
	}
	for _, s := range cases {
		env, err := c.Encrypt(s)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", s, err)
		}
		got, err := c.Decrypt(env)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	c := newCipher(t)

	a, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Fatalf("two encryptions of the same plaintext produced identical envelopes")
	}
	for _, env := range []string{a, b} {
		got, err := c.Decrypt(env)
		if err != nil || got != "same plaintext" {
			t.Fatalf("Decrypt(%q) = %q, %v", env, got, err)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	c := newCipher(t)

	env, err := c.Encrypt("shape")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	parts := strings.Split(env, ":")
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if len(parts[0]) != 24 {
		t.Fatalf("nonce must be 24 hex chars, got %d", len(parts[0]))
	}
	if len(parts[1]) != 32 {
		t.Fatalf("tag must be 32 hex chars, got %d", len(parts[1]))
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	c := newCipher(t)

	env, err := c.Encrypt("do not touch")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	parts := strings.Split(env, ":")

	// Flip a hex digit in every position of the ciphertext field.
	ct := parts[2]
	for i := 0; i < len(ct); i++ {
		flipped := []byte(ct)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		tampered := parts[0] + ":" + parts[1] + ":" + string(flipped)
		if _, err := c.Decrypt(tampered); err == nil {
			t.Fatalf("tampered ciphertext at hex digit %d decrypted without error", i)
		}
	}
}

func TestDecrypt_MalformedEnvelope(t *testing.T) {
	c := newCipher(t)

	for _, env := range []string{
		"",
		"onlyonepart",
		"two:parts",
		"a:b:c:d",
		"nothex:00112233445566778899aabbccddeeff:00",
	} {
		if _, err := c.Decrypt(env); err == nil {
			t.Fatalf("expected error for envelope %q", env)
		}
	}
}
