package rest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-node/internal/diagnostic"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/leadership"
	"github.com/Klingon-tech/klingnet-node/internal/lifecycle"
	"github.com/Klingon-tech/klingnet-node/internal/mailbox"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/pkg/block"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// maxBodySize is the maximum accepted message body (1 MB).
const maxBodySize = 1 << 20

// errNotAvailable is reported while the node has not started its tasks.
var errNotAvailable = errors.New("not yet available")

// Handlers serves the status API from the lifecycle context.
type Handlers struct {
	status  *lifecycle.Context
	token   *shutdown.Token
	version string
}

// NewHandlers creates handlers reading status and cancelling token.
func NewHandlers(status *lifecycle.Context, token *shutdown.Token, version string) *Handlers {
	return &Handlers{status: status, token: token, version: version}
}

// TipInfo describes the current chain head.
type TipInfo struct {
	Hash   types.Hash `json:"hash"`
	Height uint64     `json:"height"`
	Slot   uint64     `json:"slot"`
	Time   time.Time  `json:"time"`
}

// NodeStats is the body of GET /api/v0/node/stats. Handles that are not yet
// attached are reported as null.
type NodeStats struct {
	Version    string                 `json:"version"`
	State      lifecycle.State        `json:"state"`
	Diagnostic *diagnostic.Diagnostic `json:"diagnostic"`
	Tip        *TipInfo               `json:"tip"`
	Stats      *stats.Snapshot        `json:"stats"`
	Leaders    int                    `json:"leaders"`
}

// NodeStats handles GET /api/v0/node/stats.
func (h *Handlers) NodeStats(w http.ResponseWriter, r *http.Request) {
	resp := NodeStats{
		Version: h.version,
		State:   h.status.State(),
	}
	if d, ok := h.status.Diagnostic(); ok {
		resp.Diagnostic = &d
	}
	if tip, ok := h.status.Tip(); ok {
		ref := tip.Get()
		resp.Tip = &TipInfo{Hash: ref.Hash, Height: ref.Height, Slot: ref.Slot, Time: ref.Time}
	}
	if full, ok := h.status.Full(); ok {
		snap := full.Stats.Snapshot()
		resp.Stats = &snap
		resp.Leaders = full.Leaders
	}
	writeJSON(w, http.StatusOK, resp)
}

// Peers handles GET /api/v0/network/peers.
func (h *Handlers) Peers(w http.ResponseWriter, r *http.Request) {
	full, ok := h.full(w)
	if !ok {
		return
	}
	reply := mailbox.NewReply[[]intercom.PeerInfo]()
	if err := full.Network.Send(r.Context(), intercom.NetworkMsg{Kind: intercom.GetPeers, Peers: reply}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	peers, err := reply.Wait(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if peers == nil {
		peers = []intercom.PeerInfo{}
	}
	writeJSON(w, http.StatusOK, peers)
}

// LeadersLogs handles GET /api/v0/leaders/logs.
func (h *Handlers) LeadersLogs(w http.ResponseWriter, r *http.Request) {
	full, ok := h.full(w)
	if !ok {
		return
	}
	logs := []leadership.LogEntry{}
	if full.LeadershipLogs != nil {
		logs = append(logs, full.LeadershipLogs.All()...)
	}
	writeJSON(w, http.StatusOK, logs)
}

// FragmentLogs handles GET /api/v0/fragment/logs.
func (h *Handlers) FragmentLogs(w http.ResponseWriter, r *http.Request) {
	full, ok := h.full(w)
	if !ok {
		return
	}
	reply := mailbox.NewReply[[]intercom.FragmentLog]()
	if err := full.Fragments.Send(r.Context(), intercom.FragmentMsg{Kind: intercom.GetLogs, Logs: reply}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	logs, err := reply.Wait(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if logs == nil {
		logs = []intercom.FragmentLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// MessageResponse is the body returned for an accepted fragment.
type MessageResponse struct {
	FragmentID types.Hash `json:"fragment_id"`
}

// PostMessage handles POST /api/v0/message. The body is the fragment
// payload, raw for application/octet-stream and hex encoded otherwise.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	full, ok := h.full(w)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("failed to read request body"))
		return
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	payload, err := decodePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, block.ErrEmptyFragment)
		return
	}

	f := block.NewFragment(payload)
	reply := mailbox.NewReply[[]types.Hash]()
	msg := intercom.FragmentMsg{
		Kind:      intercom.Incoming,
		Fragments: []*block.Fragment{f},
		Origin:    intercom.OriginRest,
		Accepted:  reply,
	}
	if err := full.Fragments.Send(r.Context(), msg); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	accepted, err := reply.Wait(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if len(accepted) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("fragment rejected, see fragment logs"))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{FragmentID: accepted[0]})
}

func decodePayload(contentType string, body []byte) ([]byte, error) {
	if strings.HasPrefix(contentType, "application/octet-stream") {
		return body, nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, errors.New("fragment body must be hex encoded")
	}
	return b, nil
}

// Shutdown handles POST /api/v0/shutdown.
func (h *Handlers) Shutdown(w http.ResponseWriter, r *http.Request) {
	if h.token.Cancel() {
		h.status.StopBootstrap()
	}
	w.WriteHeader(http.StatusAccepted)
}

// full returns the task bundle or answers 503.
func (h *Handlers) full(w http.ResponseWriter) (*lifecycle.Full, bool) {
	full, ok := h.status.Full()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errNotAvailable)
		return nil, false
	}
	return full, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
