// Package ipc defines the wire protocol between greeters and the session
// daemon: length-prefixed JSON messages over a unix stream socket.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Command types for greeter requests.
const (
	CmdCreateSession    = "create_session"
	CmdPostAuthResponse = "post_auth_response"
	CmdStartSession     = "start_session"
	CmdCancelSession    = "cancel_session"
)

// Event types for daemon responses.
const (
	EvtSuccess     = "success"
	EvtError       = "error"
	EvtAuthMessage = "auth_message"
)

// Request is a greeter message to the daemon.
type Request struct {
	Command string `json:"command"`

	// CreateSession field
	Username string `json:"username,omitempty"`

	// PostAuthResponse field; nil cancels the authentication attempt.
	Response *string `json:"response,omitempty"`

	// StartSession fields
	Cmd []string `json:"cmd,omitempty"`
	Env []string `json:"env,omitempty"`
	VT  int      `json:"vt,omitempty"`
}

// Response is a daemon message resolving the previous greeter request.
type Response struct {
	Event string `json:"event"`

	// Error field
	Description string `json:"description,omitempty"`

	// AuthMessage fields
	Style   string `json:"style,omitempty"`
	Message string `json:"message,omitempty"`

	// StartSession success field
	SessionID string `json:"session_id,omitempty"`
}

// Wire format:
//   [4 bytes big-endian length][JSON payload]
// One Request or Response per frame.

const maxFrameSize = 1 << 20 // 1MB sanity limit

// Write marshals msg and writes it as one frame.
func Write(w io.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRequest reads one request frame.
func ReadRequest(r io.Reader) (Request, error) {
	buf, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(buf, &req); err != nil {
		return Request{}, fmt.Errorf("unmarshal request: %w", err)
	}
	return req, nil
}

// ReadResponse reads one response frame.
func ReadResponse(r io.Reader) (Response, error) {
	buf, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(buf, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}
