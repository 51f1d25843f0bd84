package exchange

// seqAction is the sequencer's verdict on one depth delta.
type seqAction int

const (
	seqDrop   seqAction = iota // stale frame, predates the snapshot
	seqApply                   // contiguous, apply to the book
	seqResync                  // gap detected, discard the book and restart
)

// sequencer enforces the venue-A snapshot+delta ordering protocol for one
// symbol. Given a snapshot at id S, deltas carry [U, u] bounds; frames
// with u <= S are stale, the first applied frame must bracket S+1
// (U <= S+1 <= u), and every later frame must continue exactly where the
// previous one ended (U == prev_u + 1).
type sequencer struct {
	snapshotID int64
	last       int64
	synced     bool
}

func newSequencer(snapshotID int64) *sequencer {
	return &sequencer{snapshotID: snapshotID}
}

// accept classifies a delta by its [firstID, finalID] bounds.
func (s *sequencer) accept(firstID, finalID int64) seqAction {
	if !s.synced {
		if finalID <= s.snapshotID {
			return seqDrop
		}
		if firstID <= s.snapshotID+1 && s.snapshotID+1 <= finalID {
			s.synced = true
			s.last = finalID
			return seqApply
		}
		// Newer than the snapshot but not bracketing it: frames were
		// missed between the snapshot fetch and this stream position.
		return seqResync
	}

	if firstID == s.last+1 {
		s.last = finalID
		return seqApply
	}
	return seqResync
}
