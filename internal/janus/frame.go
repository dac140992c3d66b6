package janus

import (
	"encoding/json"
	"fmt"

	"github.com/bluenviron/whipgate/internal/protocols/whip"
)

// JSEP is a SDP payload attached to a request or response.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// request is an outgoing frame.
type request struct {
	Janus       string           `json:"janus"`
	Transaction string           `json:"transaction"`
	SessionID   uint64           `json:"session_id,omitempty"`
	HandleID    uint64           `json:"handle_id,omitempty"`
	Plugin      string           `json:"plugin,omitempty"`
	Body        interface{}      `json:"body,omitempty"`
	JSEP        *JSEP            `json:"jsep,omitempty"`
	Candidate   *whip.Candidate  `json:"candidate,omitempty"`
	Candidates  []whip.Candidate `json:"candidates,omitempty"`
}

// frameError is the error field of an incoming frame.
type frameError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e frameError) Error() string {
	return fmt.Sprintf("backend error %d (%s)", e.Code, e.Reason)
}

// frame is an incoming frame.
type frame struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	SessionID   uint64 `json:"session_id"`
	Sender      uint64 `json:"sender"`
	Data        *struct {
		ID uint64 `json:"id"`
	} `json:"data"`
	PluginData *struct {
		Plugin string          `json:"plugin"`
		Data   json.RawMessage `json:"data"`
	} `json:"plugindata"`
	JSEP  *JSEP       `json:"jsep"`
	Error *frameError `json:"error"`
}

// pluginData is the decoded plugindata.data of a plugin response.
type pluginData struct {
	ID        uint64 `json:"id"`
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
}

// isTerminal reports whether the frame completes a transaction.
// Acknowledgment frames keep the transaction open.
func (f *frame) isTerminal() bool {
	return f.Janus != "ack"
}
