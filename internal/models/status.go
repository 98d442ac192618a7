package models

import "github.com/saashqdev/delightful-im/internal/apperr"

// SeqStatus is the per-viewer delivery state of one rendering.
type SeqStatus string

const (
	SeqStatusUnread  SeqStatus = "unread"
	SeqStatusSeen    SeqStatus = "seen"
	SeqStatusRead    SeqStatus = "read"
	SeqStatusRevoked SeqStatus = "revoked"
)

var allowedStatusTransitions = map[SeqStatus]map[SeqStatus]struct{}{
	SeqStatusUnread: {
		SeqStatusSeen:    {},
		SeqStatusRead:    {},
		SeqStatusRevoked: {},
	},
	SeqStatusSeen: {
		SeqStatusRead:    {},
		SeqStatusRevoked: {},
	},
	SeqStatusRead: {
		SeqStatusRevoked: {},
	},
	SeqStatusRevoked: {},
}

// ValidateSeqStatus rejects anything outside the four known statuses.
func ValidateSeqStatus(s SeqStatus) error {
	if _, ok := allowedStatusTransitions[s]; !ok {
		return apperr.InvalidArgument("invalid seq status %q", s)
	}
	return nil
}

// CanTransition reports whether a viewer's status may move from -> to.
// Status never regresses and nothing leaves revoked.
func CanTransition(from, to SeqStatus) bool {
	next, ok := allowedStatusTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// StatusesBefore lists every status from which to is reachable.
func StatusesBefore(to SeqStatus) []SeqStatus {
	var out []SeqStatus
	for _, from := range []SeqStatus{SeqStatusUnread, SeqStatusSeen, SeqStatusRead} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
