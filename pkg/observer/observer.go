// Package observer infers the device and tester J1939 source
// addresses from live RX traffic, so an operator does not have to
// know them ahead of time to start a flash.
package observer

import (
	"sort"
	"sync"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/j1939"
)

// diagnosticPF is the PDU-format byte (high byte of the PGN) that
// marks a J1939 message as carrying diagnostic (UDS) traffic.
const diagnosticPF = 0xDA

// maxTrackedSAs/trimTo bound the per-source-address stats table: if
// it ever holds more than 256 distinct source addresses, it is
// trimmed down to the 128 most interesting ones. A source address is
// 8 bits wide, so a table of exactly 256 entries is kept whole.
const (
	maxTrackedSAs = 256
	trimTo        = 128
)

// Stats is the running tally for one observed source address.
type Stats struct {
	TotalFrames int
	UDSFrames   int
	LastSeq     int // monotonic observation counter, for recency tie-breaks
	TesterVotes map[uint8]int
}

func newStats() *Stats {
	return &Stats{TesterVotes: make(map[uint8]int)}
}

// Table tracks per-source-address traffic statistics and casts votes
// for which source address is acting as the diagnostic tester.
type Table struct {
	mu              sync.Mutex
	order           []uint8 // first-seen order, stable for UI display
	stats           map[uint8]*Stats
	seq             int
	currentTesterSA uint8
}

// New creates an empty Table. currentTesterSA is this host's own
// tester address: frames it transmitted itself (looped back on the
// bus) are never folded into the stats, per spec.
func New(currentTesterSA uint8) *Table {
	return &Table{stats: make(map[uint8]*Stats), currentTesterSA: currentTesterSA}
}

// SetCurrentTesterSA updates the address the table treats as "us", so
// a later change of tester address (e.g. after the engine's
// ApplySourceAddresses) does
// not pollute the stats with our own traffic.
func (t *Table) SetCurrentTesterSA(sa uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentTesterSA = sa
}

// Observe folds one RX frame's identifier into the stats table.
func (t *Table) Observe(id uint32) {
	decoded := j1939.Decode(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if decoded.Src == t.currentTesterSA {
		return
	}
	s, ok := t.stats[decoded.Src]
	if !ok {
		s = newStats()
		t.stats[decoded.Src] = s
		t.order = append(t.order, decoded.Src)
	}
	t.seq++
	s.TotalFrames++
	s.LastSeq = t.seq
	if uint8(decoded.PGN>>8) == diagnosticPF {
		s.UDSFrames++
		s.TesterVotes[decoded.Dst]++
	}
	t.trimLocked()
}

// trimLocked drops the least interesting source addresses once the
// table exceeds maxTrackedSAs, keeping the trimTo entries with the
// highest (uds, total, last) ranking. Must be called with mu held.
func (t *Table) trimLocked() {
	if len(t.order) <= maxTrackedSAs {
		return
	}
	ranked := make([]uint8, len(t.order))
	copy(ranked, t.order)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := t.stats[ranked[i]], t.stats[ranked[j]]
		if a.UDSFrames != b.UDSFrames {
			return a.UDSFrames > b.UDSFrames
		}
		if a.TotalFrames != b.TotalFrames {
			return a.TotalFrames > b.TotalFrames
		}
		return a.LastSeq > b.LastSeq
	})
	keep := make(map[uint8]bool, trimTo)
	for _, sa := range ranked[:trimTo] {
		keep[sa] = true
	}
	newOrder := t.order[:0]
	for _, sa := range t.order {
		if keep[sa] {
			newOrder = append(newOrder, sa)
		} else {
			delete(t.stats, sa)
		}
	}
	t.order = newOrder
}

// Candidates returns every tracked source address in first-seen
// order.
func (t *Table) Candidates() []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint8, len(t.order))
	copy(out, t.order)
	return out
}

// Stats returns a copy of the stats tracked for sa, if any.
func (t *Table) Stats(sa uint8) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[sa]
	if !ok {
		return Stats{}, false
	}
	votes := make(map[uint8]int, len(s.TesterVotes))
	for k, v := range s.TesterVotes {
		votes[k] = v
	}
	return Stats{TotalFrames: s.TotalFrames, UDSFrames: s.UDSFrames, LastSeq: s.LastSeq, TesterVotes: votes}, true
}

// BestTesterSA returns the source address with the plurality of
// deviceSA's tester votes. A tie is broken by the tied candidate that
// was itself most recently seen transmitting (its own LastSeq), not by
// the order in which the votes were cast; among tied candidates that
// have never been seen transmitting, which one is returned is not
// defined. ok is false when deviceSA has cast no votes yet.
func (t *Table) BestTesterSA(deviceSA uint8) (sa uint8, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.stats[deviceSA]
	if !found || len(s.TesterVotes) == 0 {
		return 0, false
	}
	bestCount := -1
	for candidate, count := range s.TesterVotes {
		if count > bestCount {
			bestCount = count
			sa = candidate
			ok = true
		} else if count == bestCount && ok {
			// Tie-break: most-recent vote wins. LastSeq is tracked per
			// source address, not per vote, so recency is approximated
			// by the candidate's own LastSeq as a tester (it must have
			// been observed transmitting to be voted for).
			if cs, exists := t.stats[candidate]; exists {
				if bs, bexists := t.stats[sa]; !bexists || cs.LastSeq > bs.LastSeq {
					sa = candidate
				}
			}
		}
	}
	return sa, ok
}
