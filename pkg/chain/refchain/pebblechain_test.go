package refchain

import (
	"path/filepath"
	"testing"

	"github.com/albatross-net/valcoord/pkg/chain"
)

func TestPebbleChainPersistsAndRestoresHeight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain")

	validators := fourValidators(t)
	pc, err := OpenPebbleChain(path, validators, 32)
	if err != nil {
		t.Fatalf("OpenPebbleChain: %v", err)
	}

	header := chain.MacroHeader{BlockNumber: 32, ViewNumber: 0, Extrinsics: []byte("batch-1")}
	pc.ExtendMacro(header, validators)
	if pc.Height() != 32 {
		t.Fatalf("expected height 32, got %d", pc.Height())
	}
	if err := pc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenPebbleChain(path, validators, 32)
	if err != nil {
		t.Fatalf("reopen OpenPebbleChain: %v", err)
	}
	defer reopened.Close()

	if reopened.Height() != 32 {
		t.Fatalf("expected restored height 32, got %d", reopened.Height())
	}

	got, ok, err := reopened.FinalizedMacroHeader(32)
	if err != nil {
		t.Fatalf("FinalizedMacroHeader: %v", err)
	}
	if !ok {
		t.Fatal("expected a persisted macro header at 32")
	}
	if string(got.Extrinsics) != "batch-1" {
		t.Fatalf("expected persisted header to round-trip extrinsics, got %q", got.Extrinsics)
	}
}

func TestPebbleChainMissingHeaderNotFound(t *testing.T) {
	dir := t.TempDir()
	pc, err := OpenPebbleChain(filepath.Join(dir, "chain"), fourValidators(t), 32)
	if err != nil {
		t.Fatalf("OpenPebbleChain: %v", err)
	}
	defer pc.Close()

	_, ok, err := pc.FinalizedMacroHeader(999)
	if err != nil {
		t.Fatalf("FinalizedMacroHeader: %v", err)
	}
	if ok {
		t.Fatal("expected no header to be found at an unfinalized height")
	}
}
