package storage

import (
	"fmt"

	"github.com/vocdoni/maci-payout/events"
)

// AppendEvent stages an event at the end of the event log of its poll.
func (b *Batch) AppendEvent(ev *events.Event) error {
	n, err := b.nextSeq(eventPrefix, ev.PollID)
	if err != nil {
		return err
	}
	return b.set(eventPrefix, seqKey(ev.PollID, n), ev)
}

// Events returns the event log of a poll starting at the from-th event.
func (s *Storage) Events(pollID uint64, from int) ([]events.Event, error) {
	var out []events.Event
	i := 0
	err := s.iterateArtifacts(append(append([]byte{}, eventPrefix...), pollKey(pollID)...),
		func(_, v []byte) error {
			defer func() { i++ }()
			if i < from {
				return nil
			}
			var ev events.Event
			if err := decodeArtifact(v, &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			out = append(out, ev)
			return nil
		})
	return out, err
}
