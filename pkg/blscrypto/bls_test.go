package blscrypto

import "testing"

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSignerFromSeed([]byte("test-seed-0000000000000000000000"))
	if err != nil {
		t.Fatalf("NewSignerFromSeed: %v", err)
	}
	msg := []byte("block-hash-placeholder")
	sig := signer.Sign(msg)

	if !Verify(signer.PublicKey(), msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(signer.PublicKey(), []byte("different message"), sig) {
		t.Fatal("expected signature over a different message to fail")
	}
}

func TestCompressUncompressRoundTrip(t *testing.T) {
	signer, err := NewSignerFromSeed([]byte("test-seed-1111111111111111111111"))
	if err != nil {
		t.Fatalf("NewSignerFromSeed: %v", err)
	}

	compressed, err := signer.Compress()
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	pk, err := Uncompress(compressed)
	if err != nil {
		t.Fatalf("Uncompress: %v", err)
	}

	msg := []byte("round-trip")
	sig := signer.Sign(msg)
	if !Verify(pk, msg, sig) {
		t.Fatal("uncompressed key failed to verify a signature from the original key")
	}
}

func TestUncompressRejectsGarbage(t *testing.T) {
	if _, err := Uncompress(CompressedPublicKey([]byte("not a valid bls public key"))); err == nil {
		t.Fatal("expected Uncompress to reject malformed input")
	}
}

func TestAggregateAndVerify(t *testing.T) {
	msg := []byte("aggregate-me")
	var pks []*PublicKey
	var sigs []Signature

	for i := 0; i < 4; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		signer, err := NewSignerFromSeed(seed)
		if err != nil {
			t.Fatalf("NewSignerFromSeed[%d]: %v", i, err)
		}
		pks = append(pks, signer.PublicKey())
		sigs = append(sigs, signer.Sign(msg))
	}

	agg, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !VerifyAggregateSameMsg(pks, msg, agg) {
		t.Fatal("expected aggregate signature to verify against all public keys")
	}
}
