// Command testnet boots a 2-node local testnet from scratch.
//
// Usage: go run ./cmd/testnet/
//
// It writes the well-known testnet leader secret, boots two in-process
// nodes (one leader, one follower bootstrapping from the leader), lets the
// leader produce blocks for a number of slots, and verifies both chains
// converge. Ctrl+C for early shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/chain"
	klog "github.com/Klingon-tech/klingnet-node/internal/log"
	"github.com/Klingon-tech/klingnet-node/internal/lifecycle"
	"github.com/Klingon-tech/klingnet-node/internal/node"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
)

const (
	numSlots     = 10
	slotDuration = time.Second
	startTimeout = 30 * time.Second
)

type runningNode struct {
	name string
	node *node.Node
	done chan error
}

func main() {
	klog.Init("info", false, "")
	logger := klog.WithComponent("testnet")

	logger.Info().Msg("=== Klingnet 2-Node Local Testnet ===")

	// ── Phase 1: Genesis + leader secret ────────────────────────────────

	dir, err := os.MkdirTemp("", "klingnet-testnet-")
	if err != nil {
		logger.Fatal().Err(err).Msg("create work dir")
	}
	defer os.RemoveAll(dir)

	secretPath := filepath.Join(dir, "leader.key")
	if err := os.WriteFile(secretPath, []byte(config.TestnetLeaderPrivKey), 0600); err != nil {
		logger.Fatal().Err(err).Msg("write leader secret")
	}

	gen := config.TestnetGenesis()
	gen.ChainID = "klingnet-testnet-local"
	gen.ChainName = "Local Testnet"
	gen.StartTime = uint64(time.Now().Unix())
	gen.SlotDurationMs = uint64(slotDuration / time.Millisecond)

	logger.Info().
		Str("chain_id", gen.ChainID).
		Str("leader", config.TestnetLeaderPubKey[:16]+"...").
		Msg("Genesis config created")

	// ── Phase 2: Signal handling ────────────────────────────────────────

	token := shutdown.NewToken()
	ctx, cancel := token.Context(context.Background())
	defer cancel()
	node.WatchSignals(ctx, token, logger)

	// ── Phase 3: Leader ─────────────────────────────────────────────────

	leaderCfg := nodeConfig(filepath.Join(dir, "node-1"))
	leaderCfg.Bootstrap.Skip = true
	leaderCfg.Leadership.Secrets = []string{secretPath}

	leader := start("node-1", leaderCfg, gen, token)
	if !waitRunning(ctx, leader) {
		stop(token, logger, leader)
		logger.Fatal().Msg("node-1 did not reach Running")
	}
	addrs := leader.node.P2PAddrs()
	if len(addrs) == 0 {
		stop(token, logger, leader)
		logger.Fatal().Msg("node-1 has no listen address")
	}
	logger.Info().Str("addr", addrs[0]).Msg("Leader running")

	// ── Phase 4: Follower ───────────────────────────────────────────────

	followerCfg := nodeConfig(filepath.Join(dir, "node-2"))
	followerCfg.P2P.TrustedPeers = []string{addrs[0]}

	follower := start("node-2", followerCfg, gen, token)
	if !waitRunning(ctx, follower) {
		stop(token, logger, leader, follower)
		logger.Fatal().Msg("node-2 did not reach Running")
	}
	logger.Info().Msg("Follower running")

	// ── Phase 5: Block production ───────────────────────────────────────

	logger.Info().
		Int("slots", numSlots).
		Dur("slot", slotDuration).
		Msg("Waiting for block production")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Production interrupted")
	case <-time.After(numSlots * slotDuration):
	}

	// Wait for the last block to propagate.
	time.Sleep(2 * slotDuration)

	// ── Phase 6: Verification ───────────────────────────────────────────

	ok := verify(logger, leader, follower)
	stop(token, logger, leader, follower)
	if !ok {
		os.Exit(1)
	}
}

// nodeConfig returns an in-memory testnet config listening on a random
// local port with discovery and the status API off.
func nodeConfig(dataDir string) *config.Config {
	cfg := config.Default(config.Testnet)
	cfg.DataDir = dataDir
	cfg.Storage.InMemory = true
	cfg.P2P.ListenAddr = "127.0.0.1"
	cfg.P2P.Port = 0
	cfg.P2P.NoDiscover = true
	cfg.Rest.Enabled = false
	return cfg
}

func start(name string, cfg *config.Config, gen *config.Genesis, token *shutdown.Token) *runningNode {
	r := &runningNode{
		name: name,
		node: node.New(cfg, gen, token),
		done: make(chan error, 1),
	}
	go func() { r.done <- r.node.Run() }()
	return r
}

// waitRunning polls until r is Running. It gives up when r exits, ctx ends
// or startTimeout elapses.
func waitRunning(ctx context.Context, r *runningNode) bool {
	deadline := time.NewTimer(startTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.node.Status().State() == lifecycle.Running {
			return true
		}
		select {
		case err := <-r.done:
			r.done <- err
			return false
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// verify compares both chains at the follower's height.
func verify(logger zerolog.Logger, leader, follower *runningNode) bool {
	lbc, lbcOK := leader.node.Status().Blockchain()
	ltip, ltipOK := leader.node.Status().Tip()
	fbc, fbcOK := follower.node.Status().Blockchain()
	ftip, ftipOK := follower.node.Status().Tip()
	if !lbcOK || !ltipOK || !fbcOK || !ftipOK {
		logger.Error().Msg("FAILURE: chain handles unavailable")
		return false
	}

	l, f := ltip.Get(), ftip.Get()
	logger.Info().
		Uint64("node1_height", l.Height).
		Uint64("node2_height", f.Height).
		Str("node1_tip", short(l)).
		Str("node2_tip", short(f)).
		Msg("Final chain state")

	if f.Height == 0 {
		logger.Error().Msg("FAILURE: follower applied no blocks")
		return false
	}
	if f.Height+1 < l.Height {
		logger.Error().Msg("FAILURE: follower is behind the leader")
		return false
	}

	lb, err := lbc.GetBlockByHeight(f.Height)
	if err != nil {
		logger.Error().Err(err).Msg("FAILURE: leader lookup")
		return false
	}
	fb, err := fbc.GetBlockByHeight(f.Height)
	if err != nil {
		logger.Error().Err(err).Msg("FAILURE: follower lookup")
		return false
	}
	if lb.Hash() != fb.Hash() {
		logger.Error().Msg("FAILURE: chain mismatch between nodes")
		return false
	}

	logger.Info().Msg("SUCCESS: both nodes converged, chains match")
	fmt.Println()
	fmt.Printf("  Blocks produced:  %d\n", l.Height)
	fmt.Printf("  Chain tip:        %s\n", l.Hash)
	fmt.Printf("  Slot duration:    %s\n", slotDuration)
	fmt.Println()
	return true
}

// stop cancels the shared token and waits for every node to return.
func stop(token *shutdown.Token, logger zerolog.Logger, nodes ...*runningNode) {
	token.Cancel()
	for _, r := range nodes {
		select {
		case err := <-r.done:
			if err != nil {
				logger.Warn().Err(err).Str("node", r.name).Msg("Node stopped with error")
			}
		case <-time.After(startTimeout):
			logger.Warn().Str("node", r.name).Msg("Node did not stop in time")
		}
	}
}

func short(r *chain.Ref) string {
	return r.Hash.String()[:16] + "..."
}
