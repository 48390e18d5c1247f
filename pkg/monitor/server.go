// Package monitor exposes the validator coordinator's state and
// outbound events to operator tooling: a read-only status endpoint
// and a WebSocket that mirrors every event the Dispatcher emits to
// the block-producer.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/albatross-net/valcoord/pkg/chain"
	"github.com/albatross-net/valcoord/pkg/validator"
)

func bitsetInts(b *bitset.BitSet) []int {
	out := make([]int, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Server is the monitor's HTTP+WebSocket front door.
type Server struct {
	router *mux.Router
	hub    *Hub
	co     *validator.Coordinator
	chain  chain.Chain
	log    *zap.SugaredLogger
}

func NewServer(co *validator.Coordinator, c chain.Chain, log *zap.SugaredLogger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		hub:    NewHub(log),
		co:     co,
		chain:  c,
		log:    log,
	}
	s.setupRoutes()
	co.Dispatcher().Subscribe(s.onEvent)
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Start runs the WebSocket hub loop and blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}).Handler(s.router)

	if s.log != nil {
		s.log.Infow("monitor server listening", "addr", addr)
	}
	return http.ListenAndServe(addr, handler)
}

type statusResponse struct {
	Height      uint32 `json:"height"`
	ValidatorID *int   `json:"validator_id,omitempty"`
	Time        string `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Height: s.chain.Height(), Time: time.Now().UTC().Format(time.RFC3339)}
	if id, ok := s.co.Table().ValidatorID(); ok {
		resp.ValidatorID = &id
	}
	respondJSON(w, http.StatusOK, resp)
}

type peerSummary struct {
	PeerID string `json:"peer_id"`
	Known  bool   `json:"has_info"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	agents := s.co.Table().Agents()
	out := make([]peerSummary, 0, len(agents))
	for _, a := range agents {
		_, known := a.Info()
		out = append(out, peerSummary{PeerID: a.Peer.PeerID(), Known: known})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// wireEvent is the JSON shape mirrored to WebSocket clients: the
// union of every validator.Event field that can carry data, tagged
// by kind so clients can discriminate without a schema per event.
type wireEvent struct {
	Kind string `json:"kind"`

	ForkProofEvidenceHex string `json:"fork_proof_evidence,omitempty"`

	BlockNumber   *uint32 `json:"block_number,omitempty"`
	NewViewNumber *uint32 `json:"new_view_number,omitempty"`
	Signers       []int   `json:"signers,omitempty"`

	Hash       string `json:"hash,omitempty"`
	ViewNumber *uint32 `json:"view_number,omitempty"`

	PrepareSigners []int `json:"prepare_signers,omitempty"`
	CommitSigners  []int `json:"commit_signers,omitempty"`
}

func (s *Server) onEvent(e validator.Event) {
	w := wireEvent{Kind: e.Kind.String()}

	switch e.Kind {
	case validator.EventForkProof:
		if e.ForkProof != nil {
			w.ForkProofEvidenceHex = fmt.Sprintf("%x", e.ForkProof.Evidence)
		}
	case validator.EventViewChangeComplete:
		bn, nv := e.ViewChangeTag.BlockNumber, e.ViewChangeTag.NewViewNumber
		w.BlockNumber, w.NewViewNumber = &bn, &nv
		if e.ViewChangeProof != nil {
			w.Signers = e.ViewChangeProof.Signers
		}
	case validator.EventPbftProposal:
		w.Hash = fmt.Sprintf("%x", e.Hash)
		if e.Proposal != nil {
			vn := e.Proposal.Proposal.Header.ViewNumber
			w.ViewNumber = &vn
		}
	case validator.EventPbftPrepareComplete:
		w.Hash = fmt.Sprintf("%x", e.Hash)
	case validator.EventPbftComplete:
		w.Hash = fmt.Sprintf("%x", e.Hash)
		if e.PbftProof != nil {
			if e.PbftProof.Prepare.Signers != nil {
				w.PrepareSigners = bitsetInts(e.PbftProof.Prepare.Signers)
			}
			if e.PbftProof.Commit.Signers != nil {
				w.CommitSigners = bitsetInts(e.PbftProof.Commit.Signers)
			}
		}
	}

	s.hub.Publish(w)
}
