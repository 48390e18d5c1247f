package refchain

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/albatross-net/valcoord/pkg/chain"
)

// keys: m:<8-byte-block-number> -> gob(chain.MacroHeader), h -> 4-byte current height.
func kMacro(blockNumber uint32) []byte {
	key := make([]byte, 0, 10)
	key = append(key, 'm', ':')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(blockNumber))
	return append(key, buf[:]...)
}

var kHeight = []byte("h")

// PebbleChain wraps a MemChain's validator-rotation and verification
// logic with pebble-backed persistence of finalized macro headers, so
// a demo node can restart without losing its finalized history. It
// mirrors the teacher's PebbleStore key-prefix scheme
// (pkg/storage/pebble_store.go's "b:"/"c:" prefixes, here "m:"/"h")
// and its gob encode/decode helpers.
type PebbleChain struct {
	*MemChain
	db *pebble.DB
}

// OpenPebbleChain opens (or creates) a pebble-backed chain at path and
// restores the persisted chain height. The validator set is not
// persisted: the caller supplies it as validators, and rotates it via
// ExtendMacro, since the validator set for a restored epoch is not
// itself chain state this package owns.
func OpenPebbleChain(path string, validators []chain.Group, macroEvery uint32) (*PebbleChain, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble chain store: %w", err)
	}
	pc := &PebbleChain{
		MemChain: NewMemChain(validators, macroEvery),
		db:       db,
	}
	if err := pc.restoreHeight(); err != nil {
		db.Close()
		return nil, err
	}
	return pc, nil
}

func (pc *PebbleChain) restoreHeight() error {
	val, closer, err := pc.db.Get(kHeight)
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore chain height: %w", err)
	}
	defer closer.Close()
	if len(val) != 4 {
		return fmt.Errorf("restore chain height: corrupt height record")
	}
	pc.MemChain.mu.Lock()
	pc.MemChain.height = binary.BigEndian.Uint32(val)
	pc.MemChain.mu.Unlock()
	return nil
}

func (pc *PebbleChain) Close() error { return pc.db.Close() }

// ExtendMacro persists the finalized header before delegating to
// MemChain's in-memory bookkeeping.
func (pc *PebbleChain) ExtendMacro(header chain.MacroHeader, nextEpochValidators []chain.Group) {
	val, err := encodeGob(header)
	if err != nil {
		panic(fmt.Errorf("refchain: encode macro header: %w", err))
	}
	if err := pc.db.Set(kMacro(header.BlockNumber), val, pebble.Sync); err != nil {
		panic(fmt.Errorf("refchain: persist macro header: %w", err))
	}

	var heightBuf [4]byte
	binary.BigEndian.PutUint32(heightBuf[:], header.BlockNumber)
	if err := pc.db.Set(kHeight, heightBuf[:], pebble.Sync); err != nil {
		panic(fmt.Errorf("refchain: persist chain height: %w", err))
	}

	pc.MemChain.ExtendMacro(header, nextEpochValidators)
}

// FinalizedMacroHeader reads a persisted macro header back from disk.
func (pc *PebbleChain) FinalizedMacroHeader(blockNumber uint32) (chain.MacroHeader, bool, error) {
	val, closer, err := pc.db.Get(kMacro(blockNumber))
	if err == pebble.ErrNotFound {
		return chain.MacroHeader{}, false, nil
	}
	if err != nil {
		return chain.MacroHeader{}, false, fmt.Errorf("read macro header: %w", err)
	}
	defer closer.Close()

	var out chain.MacroHeader
	if err := decodeGob(val, &out); err != nil {
		return chain.MacroHeader{}, false, fmt.Errorf("decode macro header: %w", err)
	}
	return out, true, nil
}
