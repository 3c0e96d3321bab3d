package config

import (
	"fmt"
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.Bootstrap.MaxAttempts < 0 {
		return fmt.Errorf("bootstrap.max_attempts must not be negative")
	}
	if cfg.Bootstrap.RetryWait <= 0 {
		return fmt.Errorf("bootstrap.retry_wait must be positive")
	}
	if cfg.Mempool.PoolMaxEntries < 1 {
		return fmt.Errorf("mempool.pool_max_entries must be at least 1")
	}
	if cfg.Mempool.LogMaxEntries < 1 {
		return fmt.Errorf("mempool.log_max_entries must be at least 1")
	}
	if cfg.Leadership.LogsCapacity < 1 {
		return fmt.Errorf("leadership.logs_capacity must be at least 1")
	}
	if cfg.Leadership.MaxBlockFragments < 0 || cfg.Leadership.MaxBlockFragments > MaxBlockFragments {
		return fmt.Errorf("leadership.max_block_fragments must be in range [0, %d]", MaxBlockFragments)
	}
	if cfg.Chain.BlockCacheTTL <= 0 || cfg.Chain.GCInterval <= 0 || cfg.Chain.NoUpdatesWarning <= 0 {
		return fmt.Errorf("chain intervals must be positive")
	}
	if cfg.Rest.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Rest.Listen); err != nil {
			return fmt.Errorf("rest.listen: %w", err)
		}
	}
	if _, err := TrustedPeerAddrs(cfg.P2P.TrustedPeers); err != nil {
		return err
	}
	return nil
}

// TrustedPeerAddrs parses trusted peer multiaddrs. Every address must carry
// a /p2p/<peer-id> component. Duplicates are rejected.
func TrustedPeerAddrs(addrs []string) ([]peer.AddrInfo, error) {
	out := make([]peer.AddrInfo, 0, len(addrs))
	seen := make(map[peer.ID]struct{}, len(addrs))
	for i, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("p2p.trusted_peers[%d]: %w", i, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("p2p.trusted_peers[%d]: %w", i, err)
		}
		if _, dup := seen[info.ID]; dup {
			return nil, fmt.Errorf("p2p.trusted_peers has duplicate peer %s", info.ID)
		}
		seen[info.ID] = struct{}{}
		out = append(out, *info)
	}
	return out, nil
}
