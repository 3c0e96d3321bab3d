package network

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// flushBook writes the connected peers and their addresses to the book.
func (n *Node) flushBook() {
	if n.book == nil || n.host == nil {
		return
	}
	now := time.Now()
	for _, p := range n.peers.list() {
		rec := PeerRecord{Peer: p.ID.String(), Source: p.Source, LastSeen: now}
		for _, a := range n.host.Peerstore().Addrs(p.ID) {
			rec.Addrs = append(rec.Addrs, a.String())
		}
		if len(rec.Addrs) == 0 {
			continue
		}
		if err := n.book.remember(rec); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Could not save peer")
		}
	}
}

// redialBook reconnects to the peers saved by a previous run.
func (n *Node) redialBook() {
	if n.book == nil {
		return
	}
	if _, err := n.book.forgetStale(time.Now()); err != nil {
		n.logger.Debug().Err(err).Msg("Peer book prune failed")
	}
	recs, err := n.book.all()
	if err != nil {
		n.logger.Debug().Err(err).Msg("Peer book unreadable")
		return
	}
	for key, rec := range recs {
		info, ok := bookEntry(key, rec)
		if !ok || info.ID == n.host.ID() || n.Bans.Banned(info.ID) {
			continue
		}
		source := rec.Source
		if source == "" {
			source = "book"
		}
		_ = n.Connect(n.ctx, info, source)
	}
}

// bookEntry turns a saved record back into a dialable address set.
func bookEntry(key string, rec *PeerRecord) (peer.AddrInfo, bool) {
	id, err := peer.Decode(key)
	if err != nil {
		return peer.AddrInfo{}, false
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range rec.Addrs {
		if a, err := ma.NewMultiaddr(s); err == nil {
			info.Addrs = append(info.Addrs, a)
		}
	}
	return info, len(info.Addrs) > 0
}

// maintain periodically saves the peer book and drops expired bans.
func (n *Node) maintain() {
	tick := time.NewTicker(peerFlushEvery)
	defer tick.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-tick.C:
			n.flushBook()
			if n.book != nil {
				n.book.forgetStale(time.Now())
			}
			n.Bans.sweep()
		}
	}
}

// loadOrCreateIdentity reads the hex Ed25519 host key at path, creating
// it on first use so the peer ID survives restarts.
func loadOrCreateIdentity(path string) (libp2pcrypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	raw, err := key.Raw()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return key, nil
}
