package chain

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// HashHeader computes the canonical block_hash of a macro header: the
// value every pBFT prepare and commit vote is actually signed over.
// Hashed field-by-field (mirroring the teacher's HashOfBlock) rather
// than over a serialized blob, so the hash is stable across encodings.
func HashHeader(h MacroHeader) [32]byte {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for an invalid key length, which nil never is
	}

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], h.BlockNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.ViewNumber)
	hasher.Write(buf[:])
	hasher.Write(h.ParentHash[:])
	hasher.Write(h.Extrinsics)

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
