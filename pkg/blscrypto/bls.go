// Package blscrypto wraps the BLS12-381 primitives the validator
// coordinator needs: signing, verification, signature aggregation, and
// compressed public key (de)serialization.
package blscrypto

import (
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

// PublicKey is the usable, uncompressed form of a validator's BLS
// public key.
type PublicKey = bls.PublicKey[scheme]

// Signature is a single BLS signature share, or an aggregate of many
// over the same message.
type Signature = []byte

// CompressedPublicKey is the wire/storage form of a PublicKey: the form
// that travels inside a ValidatorInfo and indexes the validator table.
type CompressedPublicKey []byte

func (c CompressedPublicKey) String() string {
	return fmt.Sprintf("%x", []byte(c))
}

// Signer holds a validator's private BLS key.
type Signer struct {
	sk *bls.PrivateKey[scheme]
	pk *PublicKey
}

// NewSignerFromSeed derives a signer deterministically from seed
// material (a keystore-loaded secret, in production; a test vector in
// tests).
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &Signer{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *Signer) PublicKey() *PublicKey { return s.pk }

func (s *Signer) Sign(msg []byte) Signature { return bls.Sign(s.sk, msg) }

// Compress returns this signer's public key in its wire form.
func (s *Signer) Compress() (CompressedPublicKey, error) { return Compress(s.pk) }

// Compress serializes a public key to its compressed wire form.
func Compress(pk *PublicKey) (CompressedPublicKey, error) {
	b, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("compress public key: %w", err)
	}
	return CompressedPublicKey(b), nil
}

// Uncompress parses a compressed public key, validating that it
// decodes to a point on the curve in the correct subgroup. Use this
// path whenever the key comes from an untrusted source (e.g. a
// ValidatorInfo received over gossip) and has not yet been checked by
// any other means.
func Uncompress(c CompressedPublicKey) (*PublicKey, error) {
	pk := new(PublicKey)
	if err := pk.UnmarshalBinary(c); err != nil {
		return nil, fmt.Errorf("uncompress public key: %w", err)
	}
	return pk, nil
}

// UncompressUnchecked parses a compressed public key without
// re-validating it. Sound only when the key has already been
// validated by another means on the same bytes — e.g. the chain's
// block-header verification, which independently establishes that the
// producer's slot key is well-formed before a proposal signature is
// checked against it (see pkg/chain.Chain.VerifyBlockHeader and
// pkg/validator.PbftInstance.CheckVerified). circl's bls.PublicKey
// does not expose a separate unchecked decode path, so this currently
// performs the same parse as Uncompress; the distinct name documents
// the call-site contract from spec.md §6/§9 rather than a cheaper code
// path, and keeps both call sites easy to find if circl ever adds one.
func UncompressUnchecked(c CompressedPublicKey) *PublicKey {
	pk, err := Uncompress(c)
	if err != nil {
		panic(fmt.Errorf("uncompress_unchecked on invalid key: %w", err))
	}
	return pk
}

func Verify(pk *PublicKey, msg, sig []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}

// Aggregate combines signature shares over the same message into a
// single BLS aggregate signature.
func Aggregate(shares []Signature) (Signature, error) {
	sigs := make([]bls.Signature, 0, len(shares))
	for _, sb := range shares {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil, fmt.Errorf("aggregate signatures: %w", err)
	}
	return agg, nil
}

// VerifyAggregateSameMsg checks an aggregate signature produced by
// distinct signers all signing the same message (the case for every
// aggregation in this system: view-change, prepare, commit).
func VerifyAggregateSameMsg(pks []*PublicKey, msg []byte, aggSig Signature) bool {
	msgs := make([][]byte, len(pks))
	for i := range pks {
		msgs[i] = msg
	}
	return bls.VerifyAggregate(pks, msgs, bls.Signature(aggSig))
}
