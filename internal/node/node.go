// Package node supervises a running node: it prepares storage and the
// genesis block, bootstraps from trusted peers, then spawns the task graph
// and waits for the first task to end.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/chain"
	"github.com/Klingon-tech/klingnet-node/internal/client"
	"github.com/Klingon-tech/klingnet-node/internal/diagnostic"
	"github.com/Klingon-tech/klingnet-node/internal/explorer"
	"github.com/Klingon-tech/klingnet-node/internal/fragment"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/leadership"
	"github.com/Klingon-tech/klingnet-node/internal/lifecycle"
	klog "github.com/Klingon-tech/klingnet-node/internal/log"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/network"
	"github.com/Klingon-tech/klingnet-node/internal/rest"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/internal/storage"
	"github.com/Klingon-tech/klingnet-node/internal/task"
	"github.com/Klingon-tech/klingnet-node/internal/watchdog"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

// stopTimeout bounds how long Close waits for tasks to return.
const stopTimeout = 10 * time.Second

// Node is one node process.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	token   *shutdown.Token
	logger  zerolog.Logger

	// ctx ends when token is cancelled or the node is closed.
	ctx    context.Context
	cancel context.CancelFunc

	services *task.Services
	status   *lifecycle.Context
	registry *prometheus.Registry
	stats    *stats.Counter

	db       storage.DB
	bc       *chain.Blockchain
	tip      *chain.Tip
	enclave  *leadership.Enclave
	p2p      *network.Node
}

// New creates a node for cfg and gen. Cancelling token stops it at any
// phase.
func New(cfg *config.Config, gen *config.Genesis, token *shutdown.Token) *Node {
	ctx, cancel := token.Context(context.Background())
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Node{
		cfg:      cfg,
		genesis:  gen,
		token:    token,
		logger:   klog.WithComponent("node"),
		ctx:      ctx,
		cancel:   cancel,
		services: task.New(),
		status:   lifecycle.New(),
		registry: registry,
		stats:    stats.New(registry),
	}
}

// Status returns the lifecycle status context.
func (n *Node) Status() *lifecycle.Context { return n.status }

// Services returns the task supervisor.
func (n *Node) Services() *task.Services { return n.services }

// P2PAddrs returns the full libp2p multiaddrs of the node. It is empty
// until the node has reached the Running state.
func (n *Node) P2PAddrs() []string {
	if st := n.status.State(); st < lifecycle.Running || n.p2p == nil {
		return nil
	}
	return n.p2p.Addrs()
}

// Run starts the node and blocks until the first task ends. A clean finish
// returns nil; any failure is an *Error.
func (n *Node) Run() error {
	defer n.Close()

	if err := n.Start(); err != nil {
		return err
	}
	if err := n.services.JoinFirst(); err != nil {
		return newError(KindService, err)
	}
	return nil
}

// Start runs every startup phase and returns once the task graph is
// running.
func (n *Node) Start() error {
	n.logger.Info().
		Str("version", config.Version).
		Str("network", string(n.cfg.Network)).
		Str("chain_id", n.genesis.ChainID).
		Msg("Starting Klingnet node")

	if len(n.cfg.P2P.TrustedPeers) == 0 && !n.cfg.Bootstrap.Skip {
		return newError(KindConfig, network.ErrEmptyTrustedPeers)
	}
	n.startRest()

	if err := n.Initialize(); err != nil {
		return err
	}
	res, err := n.Bootstrap()
	if err != nil {
		return err
	}
	return n.StartServices(res)
}

// startRest serves the status API from the first phase on, so the state
// and the shutdown endpoint are reachable during startup.
func (n *Node) startRest() {
	if !n.cfg.Rest.Enabled {
		return
	}
	ctx := n.ctx
	n.services.SpawnFallible("rest", func(info task.Info) error {
		srv := rest.New(rest.Config{
			Listen:   n.cfg.Rest.Listen,
			Version:  config.Version,
			Status:   n.status,
			Token:    n.token,
			Gatherer: n.registry,
			Logger:   info.Logger,
		})
		return srv.Run(ctx)
	})
}

// Initialize opens storage, prepares the genesis block, loads the chain and
// the leader secrets.
func (n *Node) Initialize() error {
	// ── 1. Storage ──────────────────────────────────────────────────
	diag := diagnostic.New()
	n.status.SetDiagnostic(diag)
	n.logger.Info().Str("host", diag.String()).Msg("Diagnostic")

	db, err := openStorage(n.cfg)
	if err != nil {
		return newError(KindStorage, err)
	}
	n.db = db
	n.logger.Info().Bool("in_memory", n.cfg.Storage.InMemory).Msg("Storage opened")

	// ── 2. Block0 ───────────────────────────────────────────────────
	n.status.SetState(lifecycle.PreparingBlock0)
	b0, err := task.RunToCompletion(n.services, "block0", func(info task.Info) (*block.Block, error) {
		ctx, stop := context.WithCancel(n.ctx)
		defer stop()
		n.status.SetBootstrapStopper(stop)
		defer n.status.RemoveBootstrapStopper()
		return chain.PrepareBlock0(ctx, n.genesis, db)
	})
	if err != nil {
		return n.interruptedOr(KindBlock0, err)
	}

	sched, err := chain.NewSchedule(n.genesis)
	if err != nil {
		return newError(KindBlock0, err)
	}
	bc := chain.New(db, sched, chain.DefaultCacheCapacity, n.cfg.Chain.BlockCacheTTL)
	tip, err := bc.Load(n.ctx, b0)
	if err != nil {
		return n.interruptedOr(KindBlock0, err)
	}
	n.bc, n.tip = bc, tip
	n.status.SetBlockchain(bc)
	n.status.SetTip(tip)

	ref := tip.Get()
	n.stats.SetTip(ref.Hash, ref.Height, ref.Time)
	n.logger.Info().
		Str("block0", b0.Hash().String()).
		Uint64("height", ref.Height).
		Str("tip", ref.Hash.String()).
		Msg("Chain loaded")

	// ── 3. Leader secrets ───────────────────────────────────────────
	enclave, err := leadership.LoadSecrets(expandPaths(n.cfg.Leadership.Secrets))
	if err != nil {
		return newError(KindSecret, err)
	}
	n.enclave = enclave
	if enclave.Len() > 0 {
		n.logger.Info().Int("leaders", enclave.Len()).Msg("Leader secrets loaded")
	}
	return nil
}

// Bootstrap starts the network and synchronizes with the trusted peers.
func (n *Node) Bootstrap() (BootstrapResult, error) {
	n.status.SetState(lifecycle.Bootstrapping)

	o := &Orchestrator{
		Peers:       len(n.cfg.P2P.TrustedPeers),
		Skip:        n.cfg.Bootstrap.Skip,
		MaxAttempts: n.cfg.Bootstrap.MaxAttempts,
		Backoff:     n.cfg.Bootstrap.RetryWait,
		Blockchain:  n.bc,
		Tip:         n.tip,
	}
	if err := o.CheckPeers(); err != nil {
		return BootstrapResult{}, newError(KindConfig, err)
	}
	if n.cfg.Explorer.Enabled {
		o.Explorer = explorer.NewIndex(n.db)
	}

	netCfg, err := network.ConfigFrom(n.cfg, n.genesis, n.bc.Block0Hash(), n.db)
	if err != nil {
		return BootstrapResult{}, newError(KindConfig, err)
	}
	p2p := network.New(netCfg)
	p2p.SetStats(n.stats)
	p2p.SetHeightFn(func() uint64 { return n.tip.Get().Height })
	if err := p2p.Start(); err != nil {
		return BootstrapResult{}, newError(KindBootstrap, err)
	}
	n.p2p = p2p
	o.Bootstrapper = p2p

	res, err := task.RunToCompletion(n.services, "bootstrap", func(info task.Info) (BootstrapResult, error) {
		ctx, stop := context.WithCancel(n.ctx)
		defer stop()
		n.status.SetBootstrapStopper(stop)
		defer n.status.RemoveBootstrapStopper()
		o.Logger = info.Logger
		return o.Run(ctx)
	})
	switch {
	case errors.Is(err, ErrInterrupted):
		return res, newError(KindInterrupted, err)
	case err != nil:
		return res, newError(KindBootstrap, err)
	}
	return res, nil
}

// StartServices allocates the mailboxes, spawns the task graph over the
// handles in res and publishes the task bundle to the status context.
func (n *Node) StartServices(res BootstrapResult) error {
	if n.ctx.Err() != nil {
		return newError(KindInterrupted, ErrInterrupted)
	}
	n.status.SetState(lifecycle.StartingWorkers)
	ctx := n.ctx

	blockBox, blockQueue := mailbox.New[intercom.BlockMsg](intercom.BlockQueueLen)
	fragBox, fragQueue := mailbox.New[intercom.FragmentMsg](intercom.FragmentQueueLen)
	netBox, netQueue := mailbox.New[intercom.NetworkMsg](intercom.NetworkQueueLen)
	clientBox, clientQueue := mailbox.New[intercom.ClientMsg](intercom.ClientQueueLen)

	var explorerBox *mailbox.Box[intercom.ExplorerMsg]
	if res.Explorer != nil {
		box, queue := mailbox.New[intercom.ExplorerMsg](intercom.ExplorerQueueLen)
		explorerBox = box
		n.services.SpawnFallible("explorer", func(info task.Info) error {
			t := &explorer.Task{Index: res.Explorer, Logger: info.Logger}
			return t.Run(ctx, queue)
		})
	}

	n.services.SpawnFallible("network", func(info task.Info) error {
		t := &network.Task{
			Node:      n.p2p,
			Blocks:    blockBox,
			Fragments: fragBox,
			Client:    clientBox,
			Logger:    info.Logger,
		}
		return t.Run(ctx, netQueue)
	})

	n.services.SpawnFallible("block", func(info task.Info) error {
		p := &chain.Process{
			Blockchain: res.Blockchain,
			Tip:        res.Tip,
			Stats:      n.stats,
			Network:    netBox,
			Fragments:  fragBox,
			Explorer:   explorerBox,
			GCInterval: n.cfg.Chain.GCInterval,
			Logger:     info.Logger,
		}
		return p.Run(ctx, blockQueue)
	})

	n.services.SpawnFallible("fragment", func(info task.Info) error {
		pool := fragment.NewPool(n.cfg.Mempool.PoolMaxEntries, fragment.DefaultPolicy())
		logs := fragment.NewLogs(n.cfg.Mempool.LogMaxEntries)
		p := fragment.NewProcess(pool, logs, n.enclave.Len(), netBox, n.stats, info.Logger)
		return p.Run(ctx, fragQueue)
	})

	leaderLogs := leadership.NewLogs(n.cfg.Leadership.LogsCapacity)
	n.services.SpawnFallible("leadership", func(info task.Info) error {
		m := &leadership.Module{
			Schedule:     res.Blockchain.Schedule(),
			Enclave:      n.enclave,
			Tip:          res.Tip,
			Logs:         leaderLogs,
			Stats:        n.stats,
			MaxFragments: n.cfg.Leadership.MaxBlockFragments,
			Fragments:    fragBox,
			Blocks:       blockBox,
			Logger:       info.Logger,
		}
		return m.Run(ctx)
	})

	n.services.SpawnFallible("client", func(info task.Info) error {
		t := &client.Task{Blockchain: res.Blockchain, Tip: res.Tip, Logger: info.Logger}
		return t.Run(ctx, clientQueue)
	})

	n.services.Spawn("watchdog", func(info task.Info) {
		watchdog.CheckLastBlockTime(ctx, res.Tip, n.cfg.Chain.NoUpdatesWarning, info.Logger)
	})

	n.status.SetFull(&lifecycle.Full{
		Blocks:         blockBox,
		Fragments:      fragBox,
		Network:        netBox,
		Client:         clientBox,
		Stats:          n.stats,
		LeadershipLogs: leaderLogs,
		Explorer:       res.Explorer,
		Leaders:        n.enclave.Len(),
	})
	n.status.SetState(lifecycle.Running)
	n.logger.Info().
		Int("tasks", len(n.services.Records())).
		Str("block0", res.Block0Hash.Short()).
		Bool("synced", res.Synced).
		Msg("Node running")
	return nil
}

// Close stops every task and releases storage. It is safe to call after a
// failed start.
func (n *Node) Close() {
	n.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := n.services.Wait(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("Tasks still running at shutdown")
	}

	if n.p2p != nil {
		n.p2p.Stop()
	}
	if n.enclave != nil {
		n.enclave.Zero()
	}
	n.status.ClearChain()
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Closing storage")
		}
	}
	n.logger.Info().Msg("Goodbye!")
}

// interruptedOr classifies err as an interruption when the node is
// stopping, and as kind otherwise.
func (n *Node) interruptedOr(kind ErrorKind, err error) *Error {
	if n.ctx.Err() != nil {
		return newError(KindInterrupted, fmt.Errorf("%w: %v", ErrInterrupted, err))
	}
	return newError(kind, err)
}

// CheckStorage opens the configured storage, verifies the best chain and
// returns its height.
func CheckStorage(cfg *config.Config) (uint64, error) {
	db, err := openStorage(cfg)
	if err != nil {
		return 0, newError(KindStorage, err)
	}
	defer db.Close()

	height, err := chain.NewBlockStore(db).Check()
	if err != nil {
		return height, newError(KindStorage, err)
	}
	return height, nil
}
