package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saashqdev/delightful-im/internal/apperr"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to SeqStatus
		ok       bool
	}{
		{SeqStatusUnread, SeqStatusSeen, true},
		{SeqStatusUnread, SeqStatusRead, true},
		{SeqStatusSeen, SeqStatusRead, true},
		{SeqStatusRead, SeqStatusRevoked, true},
		{SeqStatusSeen, SeqStatusUnread, false},
		{SeqStatusRead, SeqStatusSeen, false},
		{SeqStatusRevoked, SeqStatusRead, false},
		{SeqStatusRevoked, SeqStatusUnread, false},
		{"bogus", SeqStatusRead, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusesBeforeRevoked(t *testing.T) {
	assert.ElementsMatch(t,
		[]SeqStatus{SeqStatusUnread, SeqStatusSeen, SeqStatusRead},
		StatusesBefore(SeqStatusRevoked))
	assert.Equal(t, []SeqStatus{SeqStatusUnread}, StatusesBefore(SeqStatusSeen))
}

func TestValidateSeqStatus(t *testing.T) {
	for _, s := range []SeqStatus{SeqStatusUnread, SeqStatusSeen, SeqStatusRead, SeqStatusRevoked} {
		assert.NoError(t, ValidateSeqStatus(s), s)
	}
	for _, s := range []SeqStatus{"", "bogus", "READ"} {
		assert.ErrorIs(t, ValidateSeqStatus(s), apperr.ErrValidation, "%q", s)
	}
}
