package gossip

import (
	"bytes"
	"encoding/gob"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/validator"
)

func init() {
	gob.Register(validator.ValidatorInfoSnapshot{})
	gob.Register(ValidatorInfoWire{})
	gob.Register(ForkProofWire{})
	gob.Register(ProposalWire{})
	gob.Register(ViewChangeUpdateWire{})
	gob.Register(PrepareUpdateWire{})
	gob.Register(CommitUpdateWire{})
}

// ValidatorInfoWire carries a batch of SignedValidatorInfo over the
// validator-info gossip topic.
type ValidatorInfoWire struct {
	Infos []validator.SignedValidatorInfo
}

type ForkProofWire struct {
	Proof validator.ForkProof
}

type ProposalWire struct {
	Proposal validator.SignedPbftProposal
}

type ViewChangeUpdateWire struct {
	BlockNumber   uint32
	NewViewNumber uint32
	SignerIdx     int
	Signature     blscrypto.Signature
}

func (w ViewChangeUpdateWire) tag() validator.ViewChangeTag {
	return validator.ViewChangeTag{BlockNumber: w.BlockNumber, NewViewNumber: w.NewViewNumber}
}

func (w ViewChangeUpdateWire) update() aggregation.LevelUpdate {
	return aggregation.LevelUpdate{SignerIdx: w.SignerIdx, Signature: w.Signature}
}

type PrepareUpdateWire struct {
	Hash      [32]byte
	SignerIdx int
	Signature blscrypto.Signature
}

type CommitUpdateWire struct {
	Hash      [32]byte
	SignerIdx int
	Signature blscrypto.Signature
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
