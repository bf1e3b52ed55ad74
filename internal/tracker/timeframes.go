package tracker

import (
	"sort"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/model"
)

const (
	// Consecutive activity timestamps closer than this fold into one
	// timeframe.
	utteranceMergeGap = 3000 * time.Millisecond
	// Folded timeframes at or under this duration are noise unless they
	// are the speaker's final segment.
	minUtterance = 500 * time.Millisecond
)

// Timeframes derives merged speaker timeframes from the raw activity
// sequences. The derivation is pure: the same raw sequences always yield
// the same output, sorted ascending by (start, end) across all speakers.
func (t *Tracker) Timeframes() []model.SpeakerTimeframe {
	t.mu.Lock()
	raw := make(map[string][]time.Duration, len(t.activity))
	names := make(map[string]string, len(t.names))
	for id, seq := range t.activity {
		raw[id] = append([]time.Duration(nil), seq...)
	}
	for id, name := range t.names {
		names[id] = name
	}
	t.mu.Unlock()

	var out []model.SpeakerTimeframe
	for id, seq := range raw {
		name := names[id]
		if name == "" {
			name = id
		}
		out = append(out, mergeTimestamps(name, seq)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// mergeTimestamps folds one speaker's timestamps into timeframes. Segments
// with duration at or under minUtterance are dropped, except the last
// segment for the speaker, which is kept so a fresh utterance at session
// end is never silently lost.
func mergeTimestamps(name string, seq []time.Duration) []model.SpeakerTimeframe {
	if len(seq) == 0 {
		return nil
	}
	sorted := append([]time.Duration(nil), seq...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var segments []model.SpeakerTimeframe
	start, end := sorted[0], sorted[0]
	for _, ts := range sorted[1:] {
		if ts-end < utteranceMergeGap {
			end = ts
			continue
		}
		segments = append(segments, model.SpeakerTimeframe{SpeakerName: name, Start: start, End: end})
		start, end = ts, ts
	}
	segments = append(segments, model.SpeakerTimeframe{SpeakerName: name, Start: start, End: end})

	out := segments[:0]
	for i, seg := range segments {
		last := i == len(segments)-1
		if seg.End-seg.Start > minUtterance || last {
			out = append(out, seg)
		}
	}
	return out
}
