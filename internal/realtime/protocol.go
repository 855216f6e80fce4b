package realtime

import (
	"encoding/json"

	"livesync/internal/events"
	"livesync/internal/liveview"
	"livesync/internal/query"
	"livesync/pkg/model"
)

// Methods a client may call on a collection channel.
const (
	MethodAuth           = "auth"
	MethodQuery          = "query"
	MethodLiveQuery      = "liveQuery"
	MethodStop           = "stop"
	MethodCreate         = "create"
	MethodUpdate         = "update"
	MethodRemove         = "remove"
	MethodSubscribe      = "subscribe"
	MethodUnsubscribe    = "unsubscribe"
	MethodUnsubscribeAll = "unsubscribeAll"
	MethodSubscribeAll   = "subscribeAll"
)

// Message types sent by the server.
const (
	TypeResult = "result"
	TypeError  = "error"
	TypePush   = "push"
	TypeEvent  = "event"
)

// Request is the envelope of every client call.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Message is the envelope of everything the server sends. Which fields are
// set depends on Type.
type Message struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	Result interface{}   `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`

	// push
	Op       liveview.Op        `json:"op,omitempty"`
	Index    *int               `json:"index,omitempty"`
	Position *liveview.Position `json:"position,omitempty"`
	Count    *int               `json:"count,omitempty"`

	// event
	Event events.Kind `json:"event,omitempty"`

	// push and event
	Payload interface{} `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AuthParams struct {
	Token string `json:"token"`
}

// LiveQueryParams attaches Query at the client-chosen Index.
type LiveQueryParams struct {
	Index int              `json:"index"`
	Query query.Descriptor `json:"query"`
}

type StopParams struct {
	Index int `json:"index"`
}

type RemoveParams struct {
	ID string `json:"id"`
}

type SubscribeParams struct {
	Event string `json:"event"`
}

type RemoveResult struct {
	ID string `json:"id"`
}

type SubscribeResult struct {
	Events []events.Kind `json:"events"`
}

type UnsubscribeResult struct {
	Removed int `json:"removed"`
}

func resultMessage(id string, result interface{}) Message {
	return Message{ID: id, Type: TypeResult, Result: result}
}

func errorMessage(id string, err error) Message {
	return Message{
		ID:    id,
		Type:  TypeError,
		Error: &ErrorPayload{Code: model.ErrorCode(err), Message: err.Error()},
	}
}

func pushMessage(clientIndex int, n liveview.Notification) Message {
	index := clientIndex
	pos := n.Position
	return Message{
		Type:     TypePush,
		Op:       n.Op,
		Index:    &index,
		Position: &pos,
		Count:    n.Count,
		Payload:  n.Payload,
	}
}

func eventMessage(kind events.Kind, payload interface{}) Message {
	return Message{Type: TypeEvent, Event: kind, Payload: payload}
}
