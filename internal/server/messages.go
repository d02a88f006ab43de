package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by the browser. Exactly one of the
// operation fields is set.
type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Heartbeat   *Heartbeat   `json:"heartbeat,omitempty"`
}

type Subscribe struct {
	Query string          `json:"query"`
	Args  json.RawMessage `json:"args,omitempty"`
}

type Unsubscribe struct {
	SubId string `json:"sub_id"`
}

type Heartbeat struct{}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Update   *Update   `json:"update,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Update carries the latest result of a live query.
type Update struct {
	SubId  string          `json:"sub_id"`
	Result json.RawMessage `json:"result"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func UpdateMessage(subId string, result json.RawMessage) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Update: &Update{
			SubId:  subId,
			Result: result,
		},
	}
}

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrUnknownQuery(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "unknown query")
}

func ErrInvalidArgs(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "invalid query arguments")
}

func ErrSubscriptionNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "subscription not found")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
