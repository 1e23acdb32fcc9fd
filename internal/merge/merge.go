package merge

import (
	"slices"
	"strconv"

	"statical/internal/model"
)

// Policy selects which identities mark two occurrences from different
// sources as the same logical event.
type Policy struct {
	// ByUID matches equal UID and equal start instant.
	ByUID bool
	// ByContent matches equal (start, end, summary); a fallback for sources
	// that do not share a UID namespace.
	ByContent bool
}

// DefaultPolicy enables both identities.
func DefaultPolicy() Policy {
	return Policy{ByUID: true, ByContent: true}
}

// Stream is the resolved occurrence stream of one source.
type Stream struct {
	SourceID    string
	Priority    int
	Occurrences []model.Occurrence
}

// Stats describes what a merge did.
type Stats struct {
	Input      int
	Output     int
	Duplicates int
	// Replaced counts duplicates where a later stream won over an earlier one.
	Replaced int
}

// Merge combines streams into one deduplicated, sorted occurrence list.
//
// Streams are visited in the given order. Occurrences are only compared
// across streams, never within one. When two occurrences are the same
// logical event the one from the stream with higher Priority is kept; on
// equal priority the higher Sequence wins, and on a full tie the first one
// seen stays. The output is never larger than the sum of the inputs.
func Merge(streams []Stream, policy Policy) ([]model.Occurrence, Stats) {
	var stats Stats

	type slot struct {
		occ      model.Occurrence
		stream   int
		priority int
	}

	slots := make([]slot, 0)
	byUID := make(map[string]int)
	byContent := make(map[string]int)

	find := func(occ model.Occurrence, stream int) (int, bool) {
		if policy.ByUID && occ.UID != "" {
			if i, ok := byUID[uidKey(occ)]; ok && slots[i].stream != stream {
				return i, true
			}
		}
		if policy.ByContent {
			if i, ok := byContent[contentKey(occ)]; ok && slots[i].stream != stream {
				return i, true
			}
		}
		return 0, false
	}

	index := func(i int) {
		occ := slots[i].occ
		if policy.ByUID && occ.UID != "" {
			if _, ok := byUID[uidKey(occ)]; !ok {
				byUID[uidKey(occ)] = i
			}
		}
		if policy.ByContent {
			if _, ok := byContent[contentKey(occ)]; !ok {
				byContent[contentKey(occ)] = i
			}
		}
	}

	for si, stream := range streams {
		stats.Input += len(stream.Occurrences)
		for _, occ := range stream.Occurrences {
			i, dup := find(occ, si)
			if !dup {
				slots = append(slots, slot{occ: occ, stream: si, priority: stream.Priority})
				index(len(slots) - 1)
				continue
			}

			stats.Duplicates++
			cur := slots[i]
			if wins(stream.Priority, occ.Sequence, cur.priority, cur.occ.Sequence) {
				slots[i] = slot{occ: occ, stream: si, priority: stream.Priority}
				index(i)
				stats.Replaced++
			}
		}
	}

	out := make([]model.Occurrence, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.occ)
	}
	slices.SortStableFunc(out, model.Compare)
	stats.Output = len(out)
	return out, stats
}

func wins(priority, sequence, curPriority, curSequence int) bool {
	if priority != curPriority {
		return priority > curPriority
	}
	return sequence > curSequence
}

func uidKey(o model.Occurrence) string {
	return o.UID + "\x00" + strconv.FormatInt(o.Start.UnixNano(), 10)
}

func contentKey(o model.Occurrence) string {
	return strconv.FormatInt(o.Start.UnixNano(), 10) + "\x00" +
		strconv.FormatInt(o.End.UnixNano(), 10) + "\x00" + o.Summary
}
