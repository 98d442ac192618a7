// Package priority picks the dispatch lane for a delivery so that large
// group fan-outs never crowd out private conversations.
package priority

import (
	"fmt"

	"github.com/saashqdev/delightful-im/internal/models"
)

type Priority int

const (
	Highest Priority = iota
	High
	Medium
	Low
)

// All lists the lanes from most to least urgent.
var All = []Priority{Highest, High, Medium, Low}

func (p Priority) String() string {
	switch p {
	case Highest:
		return "highest"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Topic is the queue topic consumed by this lane.
func (p Priority) Topic() string {
	return "delightful:seq:" + p.String()
}

func Parse(s string) (Priority, error) {
	for _, p := range All {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Kind separates chat deliveries from control events.
type Kind int

const (
	KindChat Kind = iota
	KindControl
)

// KindOf maps a message type to its Kind.
func KindOf(t models.MessageType) Kind {
	if t.IsControl() {
		return KindControl
	}
	return KindChat
}

// Group size thresholds.
const (
	SmallGroupMax  = 100
	MediumGroupMax = 500
)

// Classify returns the dispatch lane. recipientCount is the number of
// renderings a chat unit reaches; for control units it is the size of the
// conversation the control refers to.
func Classify(convType models.ConversationType, recipientCount int, kind Kind) Priority {
	if kind == KindControl {
		if convType.IsOneToOne() || recipientCount <= SmallGroupMax {
			return Highest
		}
		return Low
	}

	switch {
	case convType.IsOneToOne():
		return Highest
	case convType == models.ConversationTypeCloudDocument, convType == models.ConversationTypeMultidimensionalTable:
		return High
	case convType == models.ConversationTypeSystem, convType == models.ConversationTypeApp:
		return Medium
	case convType.IsGroupLike():
		switch {
		case recipientCount <= SmallGroupMax:
			return Highest
		case recipientCount <= MediumGroupMax:
			return Medium
		default:
			return Low
		}
	}
	return Medium
}
