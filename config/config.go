// Package config builds the node configuration from defaults, the config
// file and command-line flags, and defines the genesis of each network.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Version is the node software version reported by --version and the status API.
var Version = "0.2.0"

// Config is the runtime configuration of one node. Fields carry the key
// that sets them in the config file; nested structs are walked.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`
	Genesis string      `conf:"genesis"` // genesis JSON file, "" for the built-in one

	Storage    StorageConfig
	P2P        P2PConfig
	Bootstrap  BootstrapConfig
	Mempool    MempoolConfig
	Leadership LeadershipConfig
	Rest       RestConfig
	Explorer   ExplorerConfig
	Chain      ChainConfig
	Log        LogConfig

	// StorageCheck is set from the command line only.
	StorageCheck bool
}

// StorageConfig selects where chain data lives.
type StorageConfig struct {
	InMemory bool `conf:"storage.memory"` // Keep blocks in memory only (testing).
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	ListenAddr   string   `conf:"p2p.listen"`
	Port         int      `conf:"p2p.port"`
	TrustedPeers []string `conf:"p2p.trusted_peers"` // libp2p multiaddrs with /p2p/<id>
	MaxPeers     int      `conf:"p2p.maxpeers"`
	NoDiscover   bool     `conf:"p2p.nodiscover"`
	DHTServer    bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for trusted peers)
}

// BootstrapConfig controls the initial synchronization against trusted peers.
type BootstrapConfig struct {
	Skip        bool          `conf:"bootstrap.skip"`         // Allow starting with no trusted peers.
	MaxAttempts int           `conf:"bootstrap.max_attempts"` // 0 = retry until synced or cancelled.
	RetryWait   time.Duration `conf:"bootstrap.retry_wait"`
}

// MempoolConfig bounds the fragment pool and the fragment status log.
type MempoolConfig struct {
	PoolMaxEntries int `conf:"mempool.pool_max_entries"`
	LogMaxEntries  int `conf:"mempool.log_max_entries"`
}

// LeadershipConfig holds block production settings.
type LeadershipConfig struct {
	Secrets           []string `conf:"leadership.secrets"` // Paths to leader secret key files.
	LogsCapacity      int      `conf:"leadership.logs_capacity"`
	MaxBlockFragments int      `conf:"leadership.max_block_fragments"`
}

// RestConfig holds status/API server settings.
type RestConfig struct {
	Enabled bool   `conf:"rest.enabled"`
	Listen  string `conf:"rest.listen"`
}

// ExplorerConfig enables the chain index.
type ExplorerConfig struct {
	Enabled bool `conf:"explorer.enabled"`
}

// ChainConfig tunes block processing and the liveness watchdog.
type ChainConfig struct {
	BlockCacheTTL    time.Duration `conf:"chain.block_cache_ttl"`
	GCInterval       time.Duration `conf:"chain.gc_interval"`
	NoUpdatesWarning time.Duration `conf:"chain.no_updates_warning"` // Watchdog interval.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir is ~/.klingnet on Linux, and the per-user application
// data directory on macOS and Windows.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingnet")
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return filepath.Join(dir, "Klingnet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingnet")
	}
	return filepath.Join(home, ".klingnet")
}

// Layout under DataDir:
//
//	klingnet.conf
//	logs/
//	<network>/node.key
//	<network>/blocks/

func (c *Config) ConfigFile() string   { return filepath.Join(c.DataDir, "klingnet.conf") }
func (c *Config) LogsDir() string      { return filepath.Join(c.DataDir, "logs") }
func (c *Config) ChainDataDir() string { return filepath.Join(c.DataDir, string(c.Network)) }
func (c *Config) NodeKeyPath() string  { return filepath.Join(c.ChainDataDir(), "node.key") }
func (c *Config) BlocksDir() string    { return filepath.Join(c.ChainDataDir(), "blocks") }
