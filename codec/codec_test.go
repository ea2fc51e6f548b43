package codec

import (
	"bytes"
	"testing"
)

func TestZstdRoundTrip(t *testing.T) {
	z := NewZstd(0)
	orig := bytes.Repeat([]byte("the quick brown fox "), 50)
	enc, err := z.Encode(orig)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc, orig) {
		t.Fatal("compressed output should differ from input for repetitive data")
	}
	dec, err := z.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, orig) {
		t.Fatal("round trip mismatch")
	}
}

func TestChaChaRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewChaCha(key)
	if err != nil {
		t.Fatal(err)
	}
	orig := []byte("secret document bytes")
	enc, err := c.Encode(orig)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, orig) {
		t.Fatal("round trip mismatch")
	}
}

func TestChaChaDistinctNoncesProduceDistinctCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	c, _ := NewChaCha(key)
	a, _ := c.Encode([]byte("same plaintext"))
	b, _ := c.Encode([]byte("same plaintext"))
	if bytes.Equal(a, b) {
		t.Fatal("want distinct ciphertexts from distinct random nonces")
	}
}

func TestChaChaRejectsShortCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	c, _ := NewChaCha(key)
	if _, err := c.Decode([]byte("x")); err != ErrCiphertextShort {
		t.Fatalf("want ErrCiphertextShort, got %v", err)
	}
}
