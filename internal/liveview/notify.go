package liveview

import (
	"encoding/json"
	"fmt"
	"strconv"

	"livesync/internal/identity"
)

// Op names the push method an observer receives.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	// OpPush fills the last slot of a paginated window after a removal.
	OpPush Op = "push"
)

// PositionKind tells how to read a notification's position argument.
type PositionKind int

const (
	// PositionNone carries no position (unsorted create, removal, push).
	PositionNone PositionKind = iota
	// PositionIndex is the new index of the document in the result.
	PositionIndex
	// PositionUnchanged means the document was refreshed in its old slot.
	PositionUnchanged
	// PositionEntered means the document joined an unsorted result.
	PositionEntered
	// PositionLeft means the document no longer matches the query.
	PositionLeft
)

// Position is the third argument of every push: an index or a flag.
//
// On the wire an index is a number, entered is true, left is false, and no
// position is null. An unchanged position is sent as its index, so a client
// that removes the document by id and inserts it at the index handles moves
// and in-place refreshes alike.
type Position struct {
	Kind  PositionKind
	Index int
}

func AtIndex(i int) Position { return Position{Kind: PositionIndex, Index: i} }

func Unchanged(i int) Position { return Position{Kind: PositionUnchanged, Index: i} }

var (
	NoPosition = Position{Kind: PositionNone}
	Entered    = Position{Kind: PositionEntered}
	Left       = Position{Kind: PositionLeft}
)

func (p Position) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PositionIndex, PositionUnchanged:
		return []byte(strconv.Itoa(p.Index)), nil
	case PositionEntered:
		return []byte("true"), nil
	case PositionLeft:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*p = NoPosition
	case bool:
		if v {
			*p = Entered
		} else {
			*p = Left
		}
	case float64:
		*p = AtIndex(int(v))
	default:
		return fmt.Errorf("invalid position %s", data)
	}
	return nil
}

func (p Position) String() string {
	switch p.Kind {
	case PositionIndex:
		return strconv.Itoa(p.Index)
	case PositionUnchanged:
		return "unchanged"
	case PositionEntered:
		return "entered"
	case PositionLeft:
		return "left"
	default:
		return "none"
	}
}

// Notification is one delta for one observer. Payload is the filtered
// document, or the document identity for removals and exits. Count-only
// observers get Count and no payload.
type Notification struct {
	Op       Op          `json:"op"`
	Payload  interface{} `json:"payload"`
	Position Position    `json:"position"`
	Count    *int        `json:"count,omitempty"`
}

// Channel delivers notifications to one connection. Push is called while the
// view holds its observer lock and must not block.
type Channel interface {
	Push(clientIndex int, n Notification) error
}

// ObserverKey identifies an attachment: a connection and the index the client
// chose for the query.
type ObserverKey struct {
	ConnID      string
	ClientIndex int
}

func (k ObserverKey) String() string {
	return fmt.Sprintf("%s#%d", k.ConnID, k.ClientIndex)
}

// Observer is one remote party attached to a live view.
type Observer struct {
	Key      ObserverKey
	Channel  Channel
	Identity identity.Identity
	// Count is set by the registry from the query options.
	Count bool
}
