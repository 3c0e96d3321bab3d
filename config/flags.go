package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrHelp is returned by ParseFlags for -h and --help.
var ErrHelp = flag.ErrHelp

// Flags are the parsed klingnetd command line.
type Flags struct {
	Help, Version, StorageCheck bool

	Network, DataDir, Config, Genesis string
	InMemory                          bool

	P2PPort      int
	TrustedPeers string
	MaxPeers     int
	NoDiscover   bool
	DHTServer    bool

	SkipBootstrap        bool
	MaxBootstrapAttempts int

	Secrets stringList

	Explorer, Rest bool
	RestListen     string

	LogLevel, LogFile string
	LogJSON           bool

	Args []string

	set map[string]bool
}

// IsSet reports whether the flag name appeared on the command line.
func (f *Flags) IsSet(name string) bool { return f.set[name] }

// stringList is a flag that may be repeated.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func newFlagSet(f *Flags) *flag.FlagSet {
	fs := flag.NewFlagSet("klingnetd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "show this help (-h)")
	fs.BoolVar(&f.Help, "h", false, "")
	fs.BoolVar(&f.Version, "version", false, "print the version and exit (-v)")
	fs.BoolVar(&f.Version, "v", false, "")
	fs.BoolVar(&f.StorageCheck, "storage-check", false, "open and check the block store, then exit")

	fs.StringVar(&f.Network, "network", "", "mainnet or testnet (default mainnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "data directory (default ~/.klingnet)")
	fs.StringVar(&f.Config, "config", "", "config file (default <datadir>/klingnet.conf, -c)")
	fs.StringVar(&f.Config, "c", "", "")
	fs.StringVar(&f.Genesis, "genesis", "", "genesis JSON file (default built in)")
	fs.BoolVar(&f.InMemory, "in-memory", false, "keep the chain in memory only")

	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port (mainnet 30303, testnet 30304)")
	fs.StringVar(&f.TrustedPeers, "trusted-peers", "", "comma-separated multiaddrs ending in /p2p/<id>")
	fs.IntVar(&f.MaxPeers, "maxpeers", 0, "peer limit (default 50)")
	fs.BoolVar(&f.NoDiscover, "nodiscover", false, "disable mDNS and DHT discovery")
	fs.BoolVar(&f.DHTServer, "dht-server", false, "serve DHT queries")

	fs.BoolVar(&f.SkipBootstrap, "skip-bootstrap", false, "start without trusted peers")
	fs.IntVar(&f.MaxBootstrapAttempts, "max-bootstrap-attempts", 0, "give up syncing after N attempts (default unlimited)")

	fs.Var(&f.Secrets, "secret", "leader secret file, hex encoded (repeatable)")

	fs.BoolVar(&f.Rest, "rest", true, "serve the REST API")
	fs.StringVar(&f.RestListen, "rest-listen", "", "REST address (mainnet 127.0.0.1:8443, testnet 127.0.0.1:8543)")
	fs.BoolVar(&f.Explorer, "explorer", false, "index the chain for the explorer")

	fs.StringVar(&f.LogLevel, "log-level", "", "trace, debug, info, warn, error or off (default info)")
	fs.StringVar(&f.LogFile, "log-file", "", "also write logs to this file")
	fs.BoolVar(&f.LogJSON, "log-json", false, "log JSON instead of console text")
	return fs
}

// ParseFlags parses args, which exclude the program name.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{set: make(map[string]bool)}
	fs := newFlagSet(f)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	f.Args = fs.Args()
	// The flag package stops at the first positional argument.
	for _, a := range f.Args {
		if strings.HasPrefix(a, "-") {
			return nil, fmt.Errorf("flag %q follows a positional argument", a)
		}
	}
	return f, nil
}

// ApplyFlags overrides cfg with the flags given on the command line.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Genesis != "" {
		cfg.Genesis = f.Genesis
	}
	cfg.Storage.InMemory = cfg.Storage.InMemory || f.InMemory
	cfg.StorageCheck = f.StorageCheck

	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.TrustedPeers != "" {
		cfg.P2P.TrustedPeers = parseStringList(f.TrustedPeers)
	}
	if f.MaxPeers != 0 {
		cfg.P2P.MaxPeers = f.MaxPeers
	}
	if f.IsSet("nodiscover") {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	cfg.P2P.DHTServer = cfg.P2P.DHTServer || f.DHTServer

	if f.IsSet("skip-bootstrap") {
		cfg.Bootstrap.Skip = f.SkipBootstrap
	}
	if f.IsSet("max-bootstrap-attempts") {
		cfg.Bootstrap.MaxAttempts = f.MaxBootstrapAttempts
	}
	if len(f.Secrets) > 0 {
		cfg.Leadership.Secrets = append([]string(nil), f.Secrets...)
	}

	if f.IsSet("explorer") {
		cfg.Explorer.Enabled = f.Explorer
	}
	if f.IsSet("rest") {
		cfg.Rest.Enabled = f.Rest
	}
	if f.RestListen != "" {
		cfg.Rest.Listen = f.RestListen
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.IsSet("log-json") {
		cfg.Log.JSON = f.LogJSON
	}
}

var usageGroups = []struct {
	title string
	flags []string
}{
	{"Commands", []string{"help", "version", "storage-check"}},
	{"Core", []string{"network", "datadir", "config", "genesis", "in-memory"}},
	{"P2P", []string{"p2p-port", "trusted-peers", "maxpeers", "nodiscover", "dht-server"}},
	{"Bootstrap", []string{"skip-bootstrap", "max-bootstrap-attempts"}},
	{"Leadership", []string{"secret"}},
	{"API", []string{"rest", "rest-listen", "explorer"}},
	{"Logging", []string{"log-level", "log-file", "log-json"}},
}

// PrintUsage writes the klingnetd help text to w.
func PrintUsage(w io.Writer) {
	fs := newFlagSet(&Flags{})
	fmt.Fprint(w, "Klingnet node: slot-scheduled blockchain node\n\nUsage:\n  klingnetd [options]\n")
	for _, g := range usageGroups {
		fmt.Fprintf(w, "\n%s:\n", g.title)
		for _, name := range g.flags {
			fl := fs.Lookup(name)
			if b, ok := fl.Value.(interface{ IsBoolFlag() bool }); !ok || !b.IsBoolFlag() {
				name += " <value>"
			}
			fmt.Fprintf(w, "  --%-32s %s\n", name, fl.Usage)
		}
	}
	fmt.Fprint(w, `
Examples:
  # single leader on a private testnet
  klingnetd --network=testnet --skip-bootstrap --secret=leader.key

  # join a network through a trusted peer
  klingnetd --trusted-peers=/ip4/203.0.113.1/tcp/30303/p2p/12D3KooW...
`)
}

// Load builds the configuration: defaults of the selected network, then
// the config file (written with defaults on first start), then flags.
func Load(flags *Flags) (*Config, error) {
	if flags == nil {
		return nil, errors.New("no flags")
	}
	cfg := Default(NetworkType(strings.ToLower(flags.Network)))
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, err
	}

	path := flags.Config
	if path == "" {
		path = cfg.ConfigFile()
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadGenesisFor returns the genesis file named by cfg.Genesis, or the
// built-in genesis of cfg.Network.
func LoadGenesisFor(cfg *Config) (*Genesis, error) {
	if cfg.Genesis != "" {
		return LoadGenesis(cfg.Genesis)
	}
	g := GenesisFor(cfg.Network)
	return g, g.Validate()
}

// EnsureDataDirs creates the data directory tree and writes a default
// config file when none exists. It is safe to call on every start.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.ChainDataDir(), cfg.BlocksDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	path := cfg.ConfigFile()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return err
	}
	if err := WriteDefaultConfig(path, cfg.Network); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
