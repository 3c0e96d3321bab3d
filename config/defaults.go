package config

import "time"

// Defaults shared by every network.
const (
	DefaultPoolMaxEntries    = 10_000
	DefaultLogMaxEntries     = 10_000
	DefaultLeadershipLogs    = 1024
	DefaultMaxBlockFragments = 255
	DefaultMaxPeers          = 50
	DefaultBlockCacheTTL     = 2 * time.Minute
	DefaultGCInterval        = 2 * time.Minute
	DefaultNoUpdatesWarning  = 30 * time.Minute
	DefaultBootstrapWait     = 5 * time.Second
)

// portsByNetwork holds the P2P port and REST address that differ per
// network so both can run on one host.
var portsByNetwork = map[NetworkType]struct {
	p2p  int
	rest string
}{
	Mainnet: {30303, "127.0.0.1:8443"},
	Testnet: {30304, "127.0.0.1:8543"},
}

// Default returns the default node configuration of network. Anything
// other than Testnet gets the mainnet defaults.
func Default(network NetworkType) *Config {
	if network != Testnet {
		network = Mainnet
	}
	ports := portsByNetwork[network]
	return &Config{
		Network: network,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			ListenAddr:   "0.0.0.0",
			Port:         ports.p2p,
			MaxPeers:     DefaultMaxPeers,
			TrustedPeers: []string{},
		},
		Bootstrap: BootstrapConfig{RetryWait: DefaultBootstrapWait},
		Mempool: MempoolConfig{
			PoolMaxEntries: DefaultPoolMaxEntries,
			LogMaxEntries:  DefaultLogMaxEntries,
		},
		Leadership: LeadershipConfig{
			LogsCapacity:      DefaultLeadershipLogs,
			MaxBlockFragments: DefaultMaxBlockFragments,
		},
		Rest: RestConfig{Enabled: true, Listen: ports.rest},
		Chain: ChainConfig{
			BlockCacheTTL:    DefaultBlockCacheTTL,
			GCInterval:       DefaultGCInterval,
			NoUpdatesWarning: DefaultNoUpdatesWarning,
		},
		Log: LogConfig{Level: "info"},
	}
}

func DefaultMainnet() *Config { return Default(Mainnet) }

func DefaultTestnet() *Config { return Default(Testnet) }
