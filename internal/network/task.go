package network

import (
	"context"
	"encoding/json"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
)

// Task connects a started Node to the rest of the node: inbound gossip is
// forwarded to block and fragment processing, peer queries are answered by
// the client task, and NetworkMsg requests are published.
type Task struct {
	Node      *Node
	Blocks    *mailbox.Box[intercom.BlockMsg]
	Fragments *mailbox.Box[intercom.FragmentMsg]
	Client    *mailbox.Box[intercom.ClientMsg]
	Logger    zerolog.Logger
}

// Run serves until ctx ends. The node is stopped on return.
func (t *Task) Run(ctx context.Context, input *mailbox.Queue[intercom.NetworkMsg]) error {
	defer t.Node.Stop()

	t.Node.registerServeHandlers(t.query)
	go t.readLoop(ctx, t.Node.subBlock, t.handleBlock)
	go t.readLoop(ctx, t.Node.subFragment, t.handleFragment)

	t.Logger.Info().Str("id", t.Node.ID().String()).Msg("Network task started")
	for {
		msg, err := input.Recv(ctx)
		if err != nil {
			return nil
		}
		t.handle(msg)
	}
}

func (t *Task) handle(msg intercom.NetworkMsg) {
	switch msg.Kind {
	case intercom.PropagateBlock:
		if err := t.Node.BroadcastBlock(msg.Block); err != nil {
			t.Logger.Warn().Err(err).Msg("Block broadcast failed")
		}
	case intercom.PropagateFragment:
		if err := t.Node.BroadcastFragment(msg.Fragment); err != nil {
			t.Logger.Warn().Err(err).Msg("Fragment broadcast failed")
		}
	case intercom.GetPeers:
		if msg.Peers != nil {
			msg.Peers <- t.Node.PeerInfos()
		}
	}
}

// query forwards a peer request to the client task.
func (t *Task) query(ctx context.Context, msg intercom.ClientMsg) intercom.ClientResult {
	msg.Reply = mailbox.NewReply[intercom.ClientResult]()
	if err := t.Client.Send(ctx, msg); err != nil {
		return intercom.ClientResult{Err: err}
	}
	res, err := msg.Reply.Wait(ctx)
	if err != nil {
		return intercom.ClientResult{Err: err}
	}
	return res
}

func (t *Task) readLoop(ctx context.Context, sub *pubsub.Subscription, handler func(context.Context, *pubsub.Message)) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == t.Node.ID() {
			continue
		}
		t.safeHandle(ctx, msg, handler)
	}
}

func (t *Task) safeHandle(ctx context.Context, msg *pubsub.Message, handler func(context.Context, *pubsub.Message)) {
	defer func() {
		if r := recover(); r != nil {
			t.Logger.Error().Interface("panic", r).Str("topic", msg.GetTopic()).Msg("Gossip handler panicked")
		}
	}()
	t.Node.peers.seen(msg.ReceivedFrom, "gossip")
	handler(ctx, msg)
}

func (t *Task) handleBlock(ctx context.Context, msg *pubsub.Message) {
	from := msg.ReceivedFrom
	var b block.Block
	if err := json.Unmarshal(msg.Data, &b); err != nil || b.Header == nil {
		t.Node.Bans.Punish(from, OffenseBadBlock, "undecodable block")
		return
	}

	reply := mailbox.NewReply[error]()
	bm := intercom.BlockMsg{
		Block:  &b,
		Source: intercom.FromNetwork,
		Peer:   from.String(),
		Reply:  reply,
	}
	if err := t.Blocks.Send(ctx, bm); err != nil {
		return
	}
	go t.scoreBlock(ctx, from, reply)
}

// scoreBlock penalises the sender once block processing proves the block invalid.
func (t *Task) scoreBlock(ctx context.Context, from peer.ID, reply mailbox.Reply[error]) {
	err, waitErr := reply.Wait(ctx)
	if waitErr != nil || !isMisbehavior(err) {
		return
	}
	t.Logger.Debug().Err(err).Str("peer", shortID(from)).Msg("Invalid block from peer")
	t.Node.Bans.Punish(from, OffenseBadBlock, err.Error())
}

func (t *Task) handleFragment(ctx context.Context, msg *pubsub.Message) {
	var f block.Fragment
	if err := json.Unmarshal(msg.Data, &f); err != nil || len(f.Payload) == 0 {
		t.Node.Bans.Punish(msg.ReceivedFrom, OffenseBadFragment, "undecodable fragment")
		return
	}
	fm := intercom.FragmentMsg{
		Kind:      intercom.Incoming,
		Fragments: []*block.Fragment{&f},
		Origin:    intercom.OriginNetwork,
	}
	if err := t.Fragments.Send(ctx, fm); err != nil {
		return
	}
}
