package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client issues one signed request/response exchange per call (spec.md
// §4.3: "Connection is one request in, one response out, then
// shutdown").
type Client struct {
	GroupID      string
	LocalPeerID  string
	SharedSecret string
	Validator    SchemaValidator
}

// send dials endpoint, writes the request frame, reads the response
// frame, and verifies it before returning.
func (c Client) send(endpoint, payloadType string, payload interface{}) (Frame, error) {
	conn, err := net.DialTimeout("tcp", endpoint, ConnDeadline)
	if err != nil {
		return Frame{}, fmt.Errorf("connect peer: %w", err)
	}
	defer conn.Close()

	now := time.Now().UnixMilli()
	req, err := NewSignedFrame(c.SharedSecret, c.GroupID, c.LocalPeerID, payloadType, payload, now)
	if err != nil {
		return Frame{}, err
	}

	if err := WriteFrame(conn, req); err != nil {
		return Frame{}, err
	}

	resp, err := ReadFrame(conn)
	if err != nil {
		return Frame{}, err
	}

	if err := Verify(c.SharedSecret, c.GroupID, resp, time.Now().UnixMilli()); err != nil {
		return Frame{}, err
	}

	if c.Validator != nil && resp.PayloadType != PayloadError {
		if err := c.Validator.Validate(resp.PayloadType, resp.Payload); err != nil {
			return Frame{}, fmt.Errorf("response failed schema validation: %w", err)
		}
	}

	return resp, nil
}

func errorFromFrame(f Frame, fallback string) error {
	var ep ErrorPayload
	if err := json.Unmarshal(f.Payload, &ep); err == nil && ep.Error != "" {
		return fmt.Errorf("%s", ep.Error)
	}
	return errors.New(fallback)
}

// Hello sends a hello and returns the peer's hello_ack payload.
func (c Client) Hello(endpoint string, payload HelloPayload) (HelloAckPayload, error) {
	resp, err := c.send(endpoint, PayloadHello, payload)
	if err != nil {
		return HelloAckPayload{}, err
	}
	if resp.PayloadType == PayloadError {
		return HelloAckPayload{}, errorFromFrame(resp, "hello failed")
	}
	if resp.PayloadType != PayloadHelloAck {
		return HelloAckPayload{}, fmt.Errorf("peer returned unexpected payload type %q for hello", resp.PayloadType)
	}

	var ack HelloAckPayload
	if err := json.Unmarshal(resp.Payload, &ack); err != nil {
		return HelloAckPayload{}, fmt.Errorf("parse hello ack: %w", err)
	}
	return ack, nil
}

// RequestState sends a state_request and returns the peer's state.
func (c Client) RequestState(endpoint string) (StateResponsePayload, error) {
	resp, err := c.send(endpoint, PayloadStateRequest, StateRequestPayload{})
	if err != nil {
		return StateResponsePayload{}, err
	}
	if resp.PayloadType == PayloadError {
		return StateResponsePayload{}, errorFromFrame(resp, "state request failed")
	}
	if resp.PayloadType != PayloadStateResponse {
		return StateResponsePayload{}, fmt.Errorf("peer returned unexpected payload type %q for state request", resp.PayloadType)
	}

	var sr StateResponsePayload
	if err := json.Unmarshal(resp.Payload, &sr); err != nil {
		return StateResponsePayload{}, fmt.Errorf("parse state response: %w", err)
	}
	return sr, nil
}

// RequestFile sends a file_request for key and returns the peer's answer.
func (c Client) RequestFile(endpoint, key string) (FileResponsePayload, error) {
	resp, err := c.send(endpoint, PayloadFileRequest, FileRequestPayload{Key: key})
	if err != nil {
		return FileResponsePayload{}, err
	}
	if resp.PayloadType == PayloadError {
		return FileResponsePayload{}, errorFromFrame(resp, "file request failed")
	}
	if resp.PayloadType != PayloadFileResponse {
		return FileResponsePayload{}, fmt.Errorf("peer returned unexpected payload type %q for file request", resp.PayloadType)
	}

	var fr FileResponsePayload
	if err := json.Unmarshal(resp.Payload, &fr); err != nil {
		return FileResponsePayload{}, fmt.Errorf("parse file response: %w", err)
	}
	return fr, nil
}
