package validator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/albatross-net/valcoord/pkg/chain"
)

// MaxValidatorInfoSnapshot bounds the ValidatorInfo batch pushed to a
// newly joined peer (spec.md §5 resource bounds).
const MaxValidatorInfoSnapshot = 64

// Agent is per-peer state: the peer handle and, once received, the
// last ValidatorInfo it advertised. Its lifetime is the peer
// connection.
type Agent struct {
	Peer PeerHandle

	mu   sync.RWMutex
	info *SignedValidatorInfo
}

func NewAgent(peer PeerHandle) *Agent {
	return &Agent{Peer: peer}
}

func (a *Agent) Info() (SignedValidatorInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.info == nil {
		return SignedValidatorInfo{}, false
	}
	return *a.info, true
}

func (a *Agent) setInfo(info SignedValidatorInfo) {
	a.mu.Lock()
	a.info = &info
	a.mu.Unlock()
}

// Table is the peer/validator table: maps peer identity to agent,
// BLS public key to agent, and the active-epoch validator index to
// agent. It is guarded by its own lock — distinct from the
// Coordinator's pBFT/view-change lock — since nothing in Table ever
// calls back into the coordinator, so the two locks never nest.
type Table struct {
	mu sync.RWMutex

	agents              map[string]*Agent // peer id -> agent
	potentialValidators map[string]*Agent // compressed public key (hex) -> agent
	activeValidators    map[int]*Agent    // validator idx -> agent, replaced wholesale at finality
	validatorID         *int

	log *zap.SugaredLogger
}

func NewTable(log *zap.SugaredLogger) *Table {
	return &Table{
		agents:              make(map[string]*Agent),
		potentialValidators: make(map[string]*Agent),
		activeValidators:    make(map[int]*Agent),
		log:                 log,
	}
}

// Join registers a newly connected peer that advertises the
// validator service flag and pushes it a snapshot of known
// ValidatorInfos plus self. A peer that does not advertise the flag
// is a no-op and returns nil.
func (t *Table) Join(peer PeerHandle, isValidator bool, self SignedValidatorInfo) *Agent {
	if !isValidator {
		return nil
	}

	agent := NewAgent(peer)

	t.mu.Lock()
	t.agents[peer.PeerID()] = agent
	snapshot := t.snapshotInfosLocked(MaxValidatorInfoSnapshot)
	t.mu.Unlock()

	snapshot = append(snapshot, self)
	if err := peer.Send(ValidatorInfoSnapshot{Infos: snapshot}); err != nil && t.log != nil {
		t.log.Debugw("failed to push validator info snapshot", "peer", peer.PeerID(), "error", err)
	}
	return agent
}

func (t *Table) snapshotInfosLocked(max int) []SignedValidatorInfo {
	out := make([]SignedValidatorInfo, 0, max)
	for _, agent := range t.agents {
		if len(out) >= max {
			break
		}
		if info, ok := agent.Info(); ok {
			out = append(out, info)
		}
	}
	return out
}

// Leave removes a disconnected peer's agent. Its potential_validators
// entry, if any, is left in place and pruned opportunistically at the
// next RebuildActive call (spec.md §9 Open Question).
func (t *Table) Leave(peerID string) {
	t.mu.Lock()
	delete(t.agents, peerID)
	t.mu.Unlock()
}

// OnValidatorInfo updates the agent's stored info and indexes it by
// public key, if the agent is known and the info is new. The caller
// (the gossip layer) is responsible for signature pre-validation.
func (t *Table) OnValidatorInfo(peerID string, signed SignedValidatorInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agent, ok := t.agents[peerID]
	if !ok {
		return
	}
	if prev, had := agent.Info(); had && prev.Info.PublicKey.String() == signed.Info.PublicKey.String() {
		return
	}
	agent.setInfo(signed)
	t.potentialValidators[signed.Info.PublicKey.String()] = agent
}

// RebuildActive recomputes active_validators from the chain's current
// validator groups, opportunistically pruning potential_validators
// entries whose agent has since disconnected.
func (t *Table) RebuildActive(groups []chain.Group) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, agent := range t.potentialValidators {
		if _, connected := t.agents[agent.Peer.PeerID()]; !connected {
			delete(t.potentialValidators, key)
		}
	}

	active := make(map[int]*Agent, len(groups))
	for idx, g := range groups {
		agent, ok := t.potentialValidators[g.PublicKey.String()]
		if !ok {
			if t.log != nil {
				t.log.Debugw("active validator not yet connected", "idx", idx, "public_key", g.PublicKey.String())
			}
			continue
		}
		active[idx] = agent
	}
	t.activeValidators = active
}

func (t *Table) SetValidatorID(id *int) {
	t.mu.Lock()
	t.validatorID = id
	t.mu.Unlock()
}

func (t *Table) ValidatorID() (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.validatorID == nil {
		return 0, false
	}
	return *t.validatorID, true
}

// ActiveAgent returns the agent currently assigned to a validator
// index, if any is connected.
func (t *Table) ActiveAgent(idx int) (*Agent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	agent, ok := t.activeValidators[idx]
	return agent, ok
}

// Agents returns a snapshot of every currently connected agent,
// used to broadcast to all known validators.
func (t *Table) Agents() []*Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Agent, 0, len(t.agents))
	for _, a := range t.agents {
		out = append(out, a)
	}
	return out
}
