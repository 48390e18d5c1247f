package validator

import "github.com/albatross-net/valcoord/pkg/aggregation"

// PeerHandle is the capability a single connected peer's ValidatorAgent
// needs: identity and a way to reach it directly. A concrete
// implementation lives in pkg/gossip, wrapping a libp2p stream.
type PeerHandle interface {
	PeerID() string
	Send(msg any) error
}

// Network is the gossip collaborator the coordinator depends on for
// everything that leaves this node. Inbound messages are wired the
// other way: pkg/gossip calls the matching Coordinator method
// directly when a message arrives.
type Network interface {
	BroadcastValidatorInfo(infos []SignedValidatorInfo)
	BroadcastForkProof(proof ForkProof)
	BroadcastProposal(signed SignedPbftProposal)
	BroadcastViewChangeUpdate(tag ViewChangeTag, update aggregation.LevelUpdate)
	BroadcastPrepareUpdate(hash [32]byte, update aggregation.LevelUpdate)
	BroadcastCommitUpdate(hash [32]byte, update aggregation.LevelUpdate)
}
