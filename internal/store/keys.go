package store

import (
	"encoding/binary"

	"github.com/splitleasesharath/slack-deep-research/pkg/id"
)

// Key prefixes under the rd/ root.
const (
	prefixItem      = "rd/item/"          // WorkItem rows keyed by ts
	prefixUnclaimed = "rd/unclaimed_idx/" // claimable items ordered by sentAt
	prefixRLog      = "rd/rlog/"          // retrieval-log rows
	prefixSession   = "rd/session/"       // deferred-task checkpoints
)

// itemKey returns the row key for a work item.
// Format: rd/item/{ts}
func itemKey(ts string) []byte {
	return []byte(prefixItem + ts)
}

// unclaimedKey returns the index key for a claimable item.
// Format: rd/unclaimed_idx/{sentAtMs 8B BE}{ts}
// The big-endian millisecond prefix gives oldest-first iteration order; the
// ts suffix breaks sentAt ties deterministically.
func unclaimedKey(sentAtMs int64, ts string) []byte {
	key := make([]byte, len(prefixUnclaimed)+8+len(ts))
	copy(key, prefixUnclaimed)
	binary.BigEndian.PutUint64(key[len(prefixUnclaimed):], uint64(sentAtMs))
	copy(key[len(prefixUnclaimed)+8:], ts)
	return key
}

// tsFromUnclaimedKey extracts the item ts from an unclaimed index key.
func tsFromUnclaimedKey(key []byte) string {
	if len(key) <= len(prefixUnclaimed)+8 {
		return ""
	}
	return string(key[len(prefixUnclaimed)+8:])
}

// rlogKey returns the row key for a retrieval-log entry.
// Format: rd/rlog/{id 16B} — IDs are time-sortable, so iteration is
// chronological.
func rlogKey(rowID id.ID) []byte {
	key := make([]byte, len(prefixRLog)+16)
	copy(key, prefixRLog)
	copy(key[len(prefixRLog):], rowID.Bytes())
	return key
}

// sessionKey returns the checkpoint key for a run.
// Format: rd/session/{runID}
func sessionKey(runID string) []byte {
	return []byte(prefixSession + runID)
}
