// Package protocol defines the messages exchanged over the live websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/zoravur/materialize-live/internal/apperr"
)

type Type string

// Client to server.
const (
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypePublish     Type = "publish"
	TypePing        Type = "ping"
)

// Server to client.
const (
	TypeSubscribed   Type = "subscribed"
	TypePacket       Type = "packet"
	TypeError        Type = "error"
	TypeUnsubscribed Type = "unsubscribed"
	TypePong         Type = "pong"
)

// Request is any client message. Channel is ds/<uid>/<path> or a bare path.
type Request struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is any server message.
type Response struct {
	Type    Type       `json:"type"`
	ID      string     `json:"id,omitempty"`
	Channel string     `json:"channel,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the wire form of an error, shared with the HTTP API.
type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// NewErrorBody classifies err.
func NewErrorBody(err error) *ErrorBody {
	msg := err.Error()
	var e *apperr.E
	if errors.As(err, &e) && e == err {
		msg = e.Message
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	}
	return &ErrorBody{Kind: apperr.KindOf(err), Message: msg}
}

// Decode parses and validates a client message.
func Decode(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, apperr.Wrap(apperr.InvalidTarget, "invalid message", err)
	}
	req.Type = Type(strings.ToLower(string(req.Type)))

	switch req.Type {
	case TypePing:
	case TypeUnsubscribe:
		if req.ID == "" {
			return req, apperr.New(apperr.InvalidTarget, "unsubscribe needs an id")
		}
	case TypeSubscribe, TypePublish:
		if req.ID == "" || req.Channel == "" {
			return req, apperr.Newf(apperr.InvalidTarget, "%s needs an id and a channel", req.Type)
		}
	default:
		return req, apperr.Newf(apperr.InvalidTarget, "unknown message type %q", req.Type)
	}
	return req, nil
}

func Subscribed(id, channel string, data any) Response {
	return Response{Type: TypeSubscribed, ID: id, Channel: channel, Data: data}
}

func Packet(id string, data any) Response {
	return Response{Type: TypePacket, ID: id, Data: data}
}

func Error(id string, err error) Response {
	return Response{Type: TypeError, ID: id, Error: NewErrorBody(err)}
}

func Unsubscribed(id string) Response { return Response{Type: TypeUnsubscribed, ID: id} }

func Pong() Response { return Response{Type: TypePong} }
