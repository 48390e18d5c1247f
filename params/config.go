package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Identity configures this node's BLS signing key and gossip address.
type Identity struct {
	// BLSSeedHex is hex-encoded seed material for deterministic BLS
	// key derivation. When it is empty, the demo binary generates a
	// fresh random seed at startup; there is no keystore loading.
	BLSSeedHex string
	PeerAddr   string
}

// Gossip configures the libp2p transport.
type Gossip struct {
	ListenAddr string
	Bootstrap  []string
}

// Chain configures the reference chain collaborator used by the demo
// binary. A production node supplies its own chain.Chain instead.
type Chain struct {
	PebblePath string
	MacroEvery uint32
}

// Monitor configures the introspection HTTP+WebSocket server.
type Monitor struct {
	ListenAddr string
}

// Table holds the peer/validator table settings read from the
// environment. MaxValidatorInfoSnapshot is not passed to the table:
// pkg/validator bounds its snapshot with its own fixed
// validator.MaxValidatorInfoSnapshot constant (64).
type Table struct {
	MaxValidatorInfoSnapshot int
}

type Config struct {
	Identity Identity
	Gossip   Gossip
	Chain    Chain
	Monitor  Monitor
	Table    Table
}

func Default() Config {
	return Config{
		Identity: Identity{
			PeerAddr: "/ip4/0.0.0.0/tcp/0",
		},
		Gossip: Gossip{
			ListenAddr: "/ip4/0.0.0.0/tcp/4001",
		},
		Chain: Chain{
			PebblePath: "data/chain",
			MacroEvery: 32,
		},
		Monitor: Monitor{
			ListenAddr: ":8090",
		},
		Table: Table{
			MaxValidatorInfoSnapshot: 64,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("VALCOORD_BLS_SEED_HEX"); v != "" {
		cfg.Identity.BLSSeedHex = v
	}
	if v := os.Getenv("VALCOORD_PEER_ADDR"); v != "" {
		cfg.Identity.PeerAddr = v
	}
	if v := os.Getenv("VALCOORD_GOSSIP_LISTEN"); v != "" {
		cfg.Gossip.ListenAddr = v
	}
	if v := os.Getenv("VALCOORD_GOSSIP_BOOTSTRAP"); v != "" {
		cfg.Gossip.Bootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("VALCOORD_CHAIN_PATH"); v != "" {
		cfg.Chain.PebblePath = v
	}
	if v := os.Getenv("VALCOORD_MACRO_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Chain.MacroEvery = uint32(n)
		}
	}
	if v := os.Getenv("VALCOORD_MONITOR_LISTEN"); v != "" {
		cfg.Monitor.ListenAddr = v
	}
	if v := os.Getenv("VALCOORD_MAX_VALIDATOR_SNAPSHOT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Table.MaxValidatorInfoSnapshot = n
		}
	}

	return cfg
}
