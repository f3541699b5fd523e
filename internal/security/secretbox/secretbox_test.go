package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

func testKey(seed byte) []byte {
	raw := make([]byte, 32)
	for i := 0; i < 32; i++ {
		raw[i] = seed + byte(i)
	}
	return raw
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	UnsafeResetForTests()
	if err := SetKey(testKey(1)); err != nil {
		t.Fatalf("SetKey err: %v", err)
	}

	for _, msg := range []string{
		"hola mundo ✓ — secreto",
		"p",
		"shared-secret-base64==",
		strings.Repeat("x", 4096),
	} {
		ct, err := Encrypt(msg)
		if err != nil {
			t.Fatalf("Encrypt err: %v", err)
		}
		if !IsEncrypted(ct) {
			t.Fatalf("IsEncrypted(%q) = false", ct)
		}
		pt, err := Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt err: %v", err)
		}
		if pt != msg {
			t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
		}
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	UnsafeResetForTests()
	if err := SetKey(testKey(200)); err != nil {
		t.Fatalf("SetKey err: %v", err)
	}

	ct, err := Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 3 {
		t.Fatalf("unexpected ct format: %q", ct)
	}
	// corromper un byte del ciphertext (base64 -> bytes -> flip -> base64)
	bs, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) == 0 {
		t.Fatal("empty ct")
	}
	bs[0] ^= 0x01 // flip
	parts[2] = base64.StdEncoding.EncodeToString(bs)
	corrupted := strings.Join(parts, "|")

	_, err = Decrypt(corrupted)
	if err == nil {
		t.Fatalf("expected auth error, got nil")
	}
	if !repository.IsDecryption(err) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestDecryptWithKey_WrongKey(t *testing.T) {
	UnsafeResetForTests()
	ct, err := EncryptWithKey(testKey(7), "credential")
	if err != nil {
		t.Fatalf("EncryptWithKey err: %v", err)
	}
	_, err = DecryptWithKey(testKey(8), ct)
	if !repository.IsDecryption(err) {
		t.Fatalf("expected ErrDecryption with wrong key, got %v", err)
	}
}

func TestDecrypt_MalformedEnvelope(t *testing.T) {
	UnsafeResetForTests()
	if err := SetKey(testKey(33)); err != nil {
		t.Fatalf("SetKey err: %v", err)
	}
	for _, bad := range []string{
		"",
		"plaintext-password",
		"sb1|only-two-parts",
		"sb2|AAAA|AAAA",
		"sb1|!!!notb64!!!|AAAA",
		"sb1|AAAA|!!!notb64!!!",
	} {
		if _, err := Decrypt(bad); !repository.IsDecryption(err) {
			t.Fatalf("Decrypt(%q): expected ErrDecryption, got %v", bad, err)
		}
		if IsEncrypted(bad) {
			t.Fatalf("IsEncrypted(%q) = true", bad)
		}
	}
}

func TestEncrypt_ErrorWhenLocked(t *testing.T) {
	UnsafeResetForTests()
	if _, err := Encrypt("x"); !repository.IsKeyUnavailable(err) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
	if Ready() {
		t.Fatalf("Ready() = true sin clave")
	}
}

func TestReEncryptField(t *testing.T) {
	UnsafeResetForTests()
	oldKey, newKey := testKey(11), testKey(99)

	ct, err := EncryptWithKey(oldKey, "rotate me")
	if err != nil {
		t.Fatalf("EncryptWithKey err: %v", err)
	}
	ct2, err := ReEncryptField(oldKey, newKey, ct)
	if err != nil {
		t.Fatalf("ReEncryptField err: %v", err)
	}
	pt, err := DecryptWithKey(newKey, ct2)
	if err != nil {
		t.Fatalf("DecryptWithKey err: %v", err)
	}
	if pt != "rotate me" {
		t.Fatalf("plaintext mismatch tras rekey: %q", pt)
	}
	// la clave vieja ya no abre el nuevo envelope
	if _, err := DecryptWithKey(oldKey, ct2); !repository.IsDecryption(err) {
		t.Fatalf("expected ErrDecryption con clave vieja, got %v", err)
	}
}
