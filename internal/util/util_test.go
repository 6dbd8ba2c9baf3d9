package util

import (
	"bytes"
	"testing"
)

func TestAESCBC(t *testing.T) {
	key, _ := RandomBytes(AESKeySize)
	plainText := []byte("hello world")

	t.Run("EncryptDecrypt", func(t *testing.T) {
		iv, cipherText, err := EncryptAESCBC(plainText, key)
		if err != nil {
			t.Fatalf("EncryptAESCBC failed: %v", err)
		}
		if len(iv) != AESIVSize {
			t.Fatalf("expected %d byte IV, got %d", AESIVSize, len(iv))
		}
		if len(cipherText)%AESIVSize != 0 {
			t.Fatalf("ciphertext length %d is not block aligned", len(cipherText))
		}

		decrypted, err := DecryptAESCBC(iv, cipherText, key)
		if err != nil {
			t.Fatalf("DecryptAESCBC failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("FreshIVEachCall", func(t *testing.T) {
		iv1, ct1, _ := EncryptAESCBC(plainText, key)
		iv2, ct2, _ := EncryptAESCBC(plainText, key)
		if bytes.Equal(iv1, iv2) || bytes.Equal(ct1, ct2) {
			t.Error("two encryptions of the same plaintext must differ")
		}
	})

	t.Run("EmptyPlaintext", func(t *testing.T) {
		iv, cipherText, err := EncryptAESCBC(nil, key)
		if err != nil {
			t.Fatalf("EncryptAESCBC failed: %v", err)
		}
		if len(cipherText) != AESIVSize {
			t.Fatalf("expected one full padding block, got %d bytes", len(cipherText))
		}
		decrypted, err := DecryptAESCBC(iv, cipherText, key)
		if err != nil {
			t.Fatalf("DecryptAESCBC failed: %v", err)
		}
		if len(decrypted) != 0 {
			t.Errorf("expected empty plaintext, got %q", decrypted)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		iv, cipherText, _ := EncryptAESCBC(plainText, key)
		other, _ := RandomBytes(AESKeySize)
		decrypted, err := DecryptAESCBC(iv, cipherText, other)
		if err == nil && bytes.Equal(decrypted, plainText) {
			t.Error("wrong key must not recover the plaintext")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, _, err := EncryptAESCBC(plainText, []byte("too short"))
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectBadIVSize", func(t *testing.T) {
		_, cipherText, _ := EncryptAESCBC(plainText, key)
		if _, err := DecryptAESCBC([]byte("short"), cipherText, key); err == nil {
			t.Error("expected error with wrong IV size, got nil")
		}
	})

	t.Run("RejectUnalignedCiphertext", func(t *testing.T) {
		iv, cipherText, _ := EncryptAESCBC(plainText, key)
		if _, err := DecryptAESCBC(iv, cipherText[:len(cipherText)-1], key); err == nil {
			t.Error("expected error with unaligned ciphertext, got nil")
		}
		if _, err := DecryptAESCBC(iv, nil, key); err == nil {
			t.Error("expected error with empty ciphertext, got nil")
		}
	})
}

func TestPKCS7(t *testing.T) {
	for n := 0; n <= 32; n++ {
		in := bytes.Repeat([]byte{'a'}, n)
		padded := PadPKCS7(in, 16)
		if len(padded)%16 != 0 || len(padded) <= n {
			t.Fatalf("bad padded length %d for input %d", len(padded), n)
		}
		out, err := UnpadPKCS7(padded, 16)
		if err != nil {
			t.Fatalf("UnpadPKCS7(%d) failed: %v", n, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip mismatch for length %d", n)
		}
	}

	bad := [][]byte{
		nil,
		make([]byte, 15),
		append(bytes.Repeat([]byte{'a'}, 15), 0),
		append(bytes.Repeat([]byte{'a'}, 15), 17),
		append(bytes.Repeat([]byte{'a'}, 13), 3, 2, 3),
	}
	for i, b := range bad {
		if _, err := UnpadPKCS7(b, 16); err != ErrInvalidPadding {
			t.Errorf("case %d: expected ErrInvalidPadding, got %v", i, err)
		}
	}
}

func TestArgon2id(t *testing.T) {
	params := DefaultArgon2idParams()
	passphrase := "correct horse battery staple"
	salt := []byte("random salt")

	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	ok, err := CompareArgon2idKey(passphrase, salt, params, key)
	if err != nil || !ok {
		t.Errorf("CompareArgon2idKey should match: ok=%v err=%v", ok, err)
	}

	ok, _ = CompareArgon2idKey("wrong passphrase", salt, params, key)
	if ok {
		t.Error("CompareArgon2idKey should not match a different passphrase")
	}
}

func TestValidateArgon2idParams(t *testing.T) {
	if err := ValidateArgon2idParams(DefaultArgon2idParams()); err != nil {
		t.Fatalf("default params rejected: %v", err)
	}

	cases := map[string]Argon2idParams{
		"zero time":        {Time: 0, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32},
		"zero parallelism": {Time: 1, MemoryKiB: 1024, Parallelism: 0, KeyLen: 32},
		"tiny memory":      {Time: 1, MemoryKiB: 4, Parallelism: 1, KeyLen: 32},
		"short key":        {Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 8},
	}
	for name, p := range cases {
		if err := ValidateArgon2idParams(p); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBytes(t *testing.T) {
	src := []byte{1, 2, 3}
	WipeBytes(src)
	for _, b := range src {
		if b != 0 {
			t.Fatal("WipeBytes left non-zero bytes")
		}
	}
}

func TestEncoding(t *testing.T) {
	b := []byte{0xde, 0xad, 0xbe, 0xef}
	s := HexEncode(b)
	if s != "deadbeef" {
		t.Errorf("expected deadbeef, got %s", s)
	}
	back, err := HexDecode(s)
	if err != nil || !bytes.Equal(back, b) {
		t.Errorf("HexDecode round trip failed: %v", err)
	}
	if _, err := HexDecode("xyz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestRandom(t *testing.T) {
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(b) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(b))
	}

	h1, err := RandomHex(32)
	if err != nil {
		t.Fatalf("RandomHex failed: %v", err)
	}
	h2, _ := RandomHex(32)
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
	if h1 == h2 {
		t.Error("RandomHex should not repeat")
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	if len(cert.Certificate) != 1 || cert.PrivateKey == nil {
		t.Error("expected one certificate and a private key")
	}
}
