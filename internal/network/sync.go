package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// MaxSyncBlocks caps the blocks served or requested per sync exchange.
const MaxSyncBlocks = 128

const (
	syncReadTimeout      = 30 * time.Second
	tipReadTimeout       = 5 * time.Second
	maxSyncRequestBytes  = 1 << 10
	maxSyncResponseBytes = MaxSyncBlocks * (config.MaxBlockSize + 100_000)
)

// SyncRequest asks a peer for blocks of its best chain starting at a height.
type SyncRequest struct {
	FromHeight uint64 `json:"from_height"`
	MaxBlocks  uint32 `json:"max_blocks"`
}

// SyncResponse contains blocks returned by a peer.
type SyncResponse struct {
	Blocks []*block.Block `json:"blocks"`
	Error  string         `json:"error,omitempty"`
}

// TipResponse describes a peer's current tip.
type TipResponse struct {
	Height uint64     `json:"height"`
	Slot   uint64     `json:"slot"`
	Hash   types.Hash `json:"hash"`
}

// queryFunc forwards a peer query to the client task and waits for the answer.
type queryFunc func(ctx context.Context, msg intercom.ClientMsg) intercom.ClientResult

// registerServeHandlers answers tip and sync requests from peers through query.
func (n *Node) registerServeHandlers(query queryFunc) {
	n.host.SetStreamHandler(TipProtocol, func(stream network.Stream) {
		defer stream.Close()

		ctx, cancel := context.WithTimeout(n.ctx, tipReadTimeout)
		defer cancel()
		res := query(ctx, intercom.ClientMsg{Kind: intercom.GetTip})
		if res.Err != nil || res.Tip == nil {
			return
		}
		resp := TipResponse{Height: res.Tip.Height, Slot: res.Tip.Slot, Hash: res.Tip.Hash()}
		json.NewEncoder(stream).Encode(&resp)
	})

	n.host.SetStreamHandler(SyncProtocol, func(stream network.Stream) {
		defer stream.Close()

		_ = stream.SetReadDeadline(time.Now().Add(syncReadTimeout))
		var req SyncRequest
		if err := json.NewDecoder(io.LimitReader(stream, maxSyncRequestBytes)).Decode(&req); err != nil {
			return
		}
		if req.MaxBlocks == 0 || req.MaxBlocks > MaxSyncBlocks {
			req.MaxBlocks = MaxSyncBlocks
		}

		ctx, cancel := context.WithTimeout(n.ctx, syncReadTimeout)
		defer cancel()
		res := query(ctx, intercom.ClientMsg{
			Kind: intercom.PullBlocks,
			From: req.FromHeight,
			Max:  int(req.MaxBlocks),
		})
		resp := SyncResponse{Blocks: res.Blocks}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		json.NewEncoder(stream).Encode(&resp)
	})
}

// request opens proto towards id, sends req unless it is nil, and decodes
// at most limit bytes of answer into resp.
func (n *Node) request(ctx context.Context, id peer.ID, proto protocol.ID, req any, resp any, limit int64, timeout time.Duration) error {
	if n.host == nil {
		return ErrNotStarted
	}
	s, err := n.host.NewStream(ctx, id, proto)
	if err != nil {
		return fmt.Errorf("open %s: %w", proto, err)
	}
	defer s.Close()

	if req != nil {
		if err := json.NewEncoder(s).Encode(req); err != nil {
			return fmt.Errorf("send %s: %w", proto, err)
		}
	}
	s.CloseWrite()
	_ = s.SetReadDeadline(time.Now().Add(timeout))
	if err := json.NewDecoder(io.LimitReader(s, limit)).Decode(resp); err != nil {
		return fmt.Errorf("read %s: %w", proto, err)
	}
	return nil
}

// RequestTip asks a peer for its current tip.
func (n *Node) RequestTip(ctx context.Context, id peer.ID) (*TipResponse, error) {
	var resp TipResponse
	if err := n.request(ctx, id, TipProtocol, nil, &resp, 1<<10, tipReadTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestBlocks asks a peer for up to max best-chain blocks from height on.
func (n *Node) RequestBlocks(ctx context.Context, id peer.ID, from uint64, max uint32) ([]*block.Block, error) {
	var resp SyncResponse
	req := SyncRequest{FromHeight: from, MaxBlocks: max}
	if err := n.request(ctx, id, SyncProtocol, &req, &resp, maxSyncResponseBytes, syncReadTimeout); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("peer sync error: %s", resp.Error)
	}
	return resp.Blocks, nil
}
