package chain

import (
	"encoding/binary"
	"time"

	"github.com/Klingon-tech/klingnet-node/config"
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
)

// Schedule maps wall-clock time to slots and slots to leaders.
// Slot 0 belongs to the genesis block and has no leader.
type Schedule struct {
	chainID       string
	start         time.Time
	slotDuration  time.Duration
	slotsPerEpoch uint64
	leaders       [][]byte
}

// NewSchedule builds the slot schedule of a genesis configuration.
func NewSchedule(gen *config.Genesis) (*Schedule, error) {
	leaders, err := gen.LeaderKeys()
	if err != nil {
		return nil, err
	}
	return &Schedule{
		chainID:       gen.ChainID,
		start:         gen.Start(),
		slotDuration:  gen.SlotDuration(),
		slotsPerEpoch: gen.SlotsPerEpoch,
		leaders:       leaders,
	}, nil
}

// SlotDuration returns the length of one slot.
func (s *Schedule) SlotDuration() time.Duration { return s.slotDuration }

// SlotAt returns the slot in progress at t. Times before the start map to slot 0.
func (s *Schedule) SlotAt(t time.Time) uint64 {
	if t.Before(s.start) {
		return 0
	}
	return uint64(t.Sub(s.start) / s.slotDuration)
}

// SlotTime returns the start time of slot.
func (s *Schedule) SlotTime(slot uint64) time.Time {
	return s.start.Add(time.Duration(slot) * s.slotDuration)
}

// Epoch returns the epoch a slot belongs to.
func (s *Schedule) Epoch(slot uint64) uint64 {
	return slot / s.slotsPerEpoch
}

// LeaderAt returns the public key scheduled to produce the block of slot.
func (s *Schedule) LeaderAt(slot uint64) []byte {
	if slot == 0 || len(s.leaders) == 0 {
		return nil
	}
	if len(s.leaders) == 1 {
		return s.leaders[0]
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], slot)
	seed := crypto.DeriveSeed(s.chainID, buf[:])

	idx := binary.LittleEndian.Uint64(seed[:8]) % uint64(len(s.leaders))
	return s.leaders[idx]
}

// Leaders returns the scheduled leader keys.
func (s *Schedule) Leaders() [][]byte {
	return s.leaders
}
