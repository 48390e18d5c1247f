// Package gossip is the peer-to-peer transport the validator
// coordinator runs on: a libp2p host with gossipsub topics for
// broadcast messages and peer-lifecycle notifications that drive
// Coordinator.Join/Leave.
package gossip

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/validator"
)

const (
	topicValidatorInfo = "valcoord-validator-info"
	topicForkProof     = "valcoord-fork-proof"
	topicProposal      = "valcoord-pbft-proposal"
	topicViewChange    = "valcoord-view-change"
	topicPrepare       = "valcoord-pbft-prepare"
	topicCommit        = "valcoord-pbft-commit"

	protocolDirect = protocol.ID("/valcoord/direct/1.0.0")
)

// Network is the libp2p-backed gossip transport. It implements
// validator.Network and drives a *validator.Coordinator from inbound
// pubsub messages and connection notifications.
type Network struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	muCo sync.RWMutex
	co   *validator.Coordinator
}

// Config configures a Network.
type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// New builds and starts a libp2p gossip transport. SetCoordinator
// must be called before any inbound message can be dispatched; until
// then, inbound messages are dropped without logging.
func New(ctx context.Context, cfg Config) (*Network, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("parse listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	n := &Network{
		h:      h,
		ps:     ps,
		log:    cfg.Logger,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}

	for _, name := range []string{topicValidatorInfo, topicForkProof, topicProposal, topicViewChange, topicPrepare, topicCommit} {
		if err := n.join(name); err != nil {
			return nil, fmt.Errorf("join topic %s: %w", name, err)
		}
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && n.log != nil {
			n.log.Warnw("bootstrap connect failed", "addr", bs, "error", err)
		}
	}

	h.SetStreamHandler(protocolDirect, n.handleDirectStream)
	h.Network().Notify(&connNotifiee{n: n})

	go n.readLoop(ctx, topicValidatorInfo, n.onValidatorInfo)
	go n.readLoop(ctx, topicForkProof, n.onForkProof)
	go n.readLoop(ctx, topicProposal, n.onProposal)
	go n.readLoop(ctx, topicViewChange, n.onViewChangeUpdate)
	go n.readLoop(ctx, topicPrepare, n.onPrepareUpdate)
	go n.readLoop(ctx, topicCommit, n.onCommitUpdate)

	if n.log != nil {
		n.log.Infow("gossip transport ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return n, nil
}

func (n *Network) join(name string) error {
	topic, err := n.ps.Join(name)
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return err
	}
	n.topics[name] = topic
	n.subs[name] = sub
	return nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// SetCoordinator wires the coordinator this transport delivers
// inbound messages to and peer events from.
func (n *Network) SetCoordinator(co *validator.Coordinator) {
	n.muCo.Lock()
	n.co = co
	n.muCo.Unlock()
}

func (n *Network) coordinator() *validator.Coordinator {
	n.muCo.RLock()
	defer n.muCo.RUnlock()
	return n.co
}

func (n *Network) Host() host.Host { return n.h }

func (n *Network) Close() error { return n.h.Close() }

// --- outbound: validator.Network ---

func (n *Network) BroadcastValidatorInfo(infos []validator.SignedValidatorInfo) {
	n.publish(topicValidatorInfo, ValidatorInfoWire{Infos: infos})
}

func (n *Network) BroadcastForkProof(proof validator.ForkProof) {
	n.publish(topicForkProof, ForkProofWire{Proof: proof})
}

func (n *Network) BroadcastProposal(signed validator.SignedPbftProposal) {
	n.publish(topicProposal, ProposalWire{Proposal: signed})
}

func (n *Network) BroadcastViewChangeUpdate(tag validator.ViewChangeTag, update aggregation.LevelUpdate) {
	n.publish(topicViewChange, ViewChangeUpdateWire{
		BlockNumber:   tag.BlockNumber,
		NewViewNumber: tag.NewViewNumber,
		SignerIdx:     update.SignerIdx,
		Signature:     update.Signature,
	})
}

func (n *Network) BroadcastPrepareUpdate(hash [32]byte, update aggregation.LevelUpdate) {
	n.publish(topicPrepare, PrepareUpdateWire{Hash: hash, SignerIdx: update.SignerIdx, Signature: update.Signature})
}

func (n *Network) BroadcastCommitUpdate(hash [32]byte, update aggregation.LevelUpdate) {
	n.publish(topicCommit, CommitUpdateWire{Hash: hash, SignerIdx: update.SignerIdx, Signature: update.Signature})
}

func (n *Network) publish(topic string, v any) {
	data, err := gobEncode(v)
	if err != nil {
		if n.log != nil {
			n.log.Errorw("encode outbound message", "topic", topic, "error", err)
		}
		return
	}
	t, ok := n.topics[topic]
	if !ok {
		return
	}
	if err := t.Publish(context.Background(), data); err != nil && n.log != nil {
		n.log.Warnw("publish failed", "topic", topic, "error", err)
	}
}

// --- inbound ---

func (n *Network) readLoop(ctx context.Context, topic string, handle func(peer.ID, []byte)) {
	sub := n.subs[topic]
	self := n.h.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		handle(msg.ReceivedFrom, msg.Data)
	}
}

func (n *Network) onValidatorInfo(from peer.ID, data []byte) {
	co := n.coordinator()
	if co == nil {
		return
	}
	var w ValidatorInfoWire
	if err := gobDecode(data, &w); err != nil {
		return
	}
	for _, info := range w.Infos {
		if !info.Verify() {
			continue
		}
		co.OnValidatorInfo(from.String(), info)
	}
}

func (n *Network) onForkProof(from peer.ID, data []byte) {
	co := n.coordinator()
	if co == nil {
		return
	}
	var w ForkProofWire
	if err := gobDecode(data, &w); err != nil {
		return
	}
	co.OnForkProof(w.Proof)
}

func (n *Network) onProposal(from peer.ID, data []byte) {
	co := n.coordinator()
	if co == nil {
		return
	}
	var w ProposalWire
	if err := gobDecode(data, &w); err != nil {
		return
	}
	if err := co.OnPbftProposal(w.Proposal); err != nil && n.log != nil {
		n.log.Debugw("rejected inbound proposal", "from", from.String(), "error", err)
	}
}

func (n *Network) onViewChangeUpdate(from peer.ID, data []byte) {
	co := n.coordinator()
	if co == nil {
		return
	}
	var w ViewChangeUpdateWire
	if err := gobDecode(data, &w); err != nil {
		return
	}
	co.OnViewChangeLevelUpdate(w.tag(), w.update())
}

func (n *Network) onPrepareUpdate(from peer.ID, data []byte) {
	co := n.coordinator()
	if co == nil {
		return
	}
	var w PrepareUpdateWire
	if err := gobDecode(data, &w); err != nil {
		return
	}
	co.OnPbftPrepareLevelUpdate(w.Hash, aggregation.LevelUpdate{SignerIdx: w.SignerIdx, Signature: w.Signature})
}

func (n *Network) onCommitUpdate(from peer.ID, data []byte) {
	co := n.coordinator()
	if co == nil {
		return
	}
	var w CommitUpdateWire
	if err := gobDecode(data, &w); err != nil {
		return
	}
	co.OnPbftCommitLevelUpdate(w.Hash, aggregation.LevelUpdate{SignerIdx: w.SignerIdx, Signature: w.Signature})
}

func (n *Network) handleDirectStream(s network.Stream) {
	defer s.Close()
	var data []byte
	buf := make([]byte, 4096)
	for {
		k, err := s.Read(buf)
		if k > 0 {
			data = append(data, buf[:k]...)
		}
		if err != nil {
			break
		}
	}
	var snapshot validator.ValidatorInfoSnapshot
	if err := gobDecode(data, &snapshot); err != nil {
		return
	}
	co := n.coordinator()
	if co == nil {
		return
	}
	remote := s.Conn().RemotePeer().String()
	for _, info := range snapshot.Infos {
		if !info.Verify() {
			continue
		}
		co.OnValidatorInfo(remote, info)
	}
}

// connNotifiee drives Coordinator.Join/Leave from libp2p connection
// events, the idiomatic Go analogue of the original's
// NetworkEvent::PeerJoined/PeerLeft.
type connNotifiee struct {
	network.Notifiee
	n *Network
}

func (c *connNotifiee) Connected(h network.Network, conn network.Conn) {
	co := c.n.coordinator()
	if co == nil {
		return
	}
	remotePeer := conn.RemotePeer()
	handle := &peerHandle{host: c.n.h, id: remotePeer}
	// Every connected peer is treated as a validator candidate: a
	// production deployment would gate this on a protocol-support or
	// identify-payload check before assuming the validator service
	// flag is set.
	co.Join(handle, true)
}

func (c *connNotifiee) Disconnected(h network.Network, conn network.Conn) {
	co := c.n.coordinator()
	if co == nil {
		return
	}
	co.Leave(conn.RemotePeer().String())
}

// peerHandle adapts a libp2p peer connection to validator.PeerHandle.
type peerHandle struct {
	host host.Host
	id   peer.ID
}

func (p *peerHandle) PeerID() string { return p.id.String() }

func (p *peerHandle) Send(msg any) error {
	data, err := gobEncode(msg)
	if err != nil {
		return fmt.Errorf("encode direct message: %w", err)
	}
	stream, err := p.host.NewStream(context.Background(), p.id, protocolDirect)
	if err != nil {
		return fmt.Errorf("open direct stream: %w", err)
	}
	defer stream.Close()
	_, err = stream.Write(data)
	return err
}
