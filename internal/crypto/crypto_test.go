package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("platform-encryption-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plain := "EAAGlongLivedAccessToken"
	sealed, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == plain {
		t.Fatalf("ciphertext equals plaintext")
	}

	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plain {
		t.Errorf("roundtrip = %q, want %q", got, plain)
	}

	// Fresh nonce per call.
	again, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("second encrypt: %v", err)
	}
	if again == sealed {
		t.Errorf("two encryptions produced identical ciphertext")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	c1, _ := New("key-one")
	c2, _ := New("key-two")

	sealed, err := c1.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Errorf("wrong key decrypted successfully")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, _ := New("key")
	for _, input := range []string{"", "not-base64!!!", "aGk="} {
		if _, err := c.Decrypt(input); err == nil {
			t.Errorf("garbage %q decrypted successfully", input)
		}
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Errorf("empty key accepted")
	}
}
