package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/albatross-net/valcoord/params"
	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
	"github.com/albatross-net/valcoord/pkg/chain/refchain"
	"github.com/albatross-net/valcoord/pkg/gossip"
	"github.com/albatross-net/valcoord/pkg/monitor"
	"github.com/albatross-net/valcoord/pkg/util"
	"github.com/albatross-net/valcoord/pkg/validator"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/valcoord.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	seed, err := loadOrGenerateSeed(cfg.Identity.BLSSeedHex)
	if err != nil {
		sugar.Fatalw("bls_seed_failed", "error", err)
	}
	signer, err := blscrypto.NewSignerFromSeed(seed)
	if err != nil {
		sugar.Fatalw("bls_keygen_failed", "error", err)
	}

	// ---- Reference chain (demo/test collaborator) ----
	self, err := signer.Compress()
	if err != nil {
		sugar.Fatalw("compress_self_key_failed", "error", err)
	}
	genesisValidators := []chain.Group{{SlotStart: 0, SlotEnd: chain.TotalSlots, PublicKey: self}}

	refc, err := refchain.OpenPebbleChain(cfg.Chain.PebblePath, genesisValidators, cfg.Chain.MacroEvery)
	if err != nil {
		sugar.Fatalw("chain_open_failed", "error", err)
	}
	defer refc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Gossip transport ----
	transport := aggregation.NewLocalTransport(sugar)

	net, err := gossip.New(ctx, gossip.Config{
		ListenAddr: cfg.Gossip.ListenAddr,
		Bootstrap:  cfg.Gossip.Bootstrap,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("gossip_init_failed", "error", err)
	}
	defer net.Close()

	// ---- Coordinator ----
	co := validator.NewCoordinator(refc, transport, net, signer, sugar)
	net.SetCoordinator(co)

	if err := co.SetSelfAddr(cfg.Identity.PeerAddr); err != nil {
		sugar.Fatalw("self_info_failed", "error", err)
	}

	// Single-node devnet: this node is validator 0 from genesis.
	genesisID := 0
	co.OnFinality(&genesisID)

	// ---- Monitor ----
	mon := monitor.NewServer(co, refc, sugar)
	go func() {
		if err := mon.Start(cfg.Monitor.ListenAddr); err != nil {
			sugar.Errorw("monitor_server_stopped", "error", err)
		}
	}()

	sugar.Infow("validator_coordinator_started",
		"listen", cfg.Gossip.ListenAddr,
		"monitor", cfg.Monitor.ListenAddr,
		"macro_every", cfg.Chain.MacroEvery,
	)

	<-ctx.Done()
	sugar.Info("validator_coordinator_shutting_down")
}

// loadOrGenerateSeed resolves BLS key seed material: a configured hex
// seed in production, or a freshly generated one for devnet runs
// where none was supplied.
func loadOrGenerateSeed(hexSeed string) ([]byte, error) {
	if hexSeed != "" {
		return hex.DecodeString(hexSeed)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}
