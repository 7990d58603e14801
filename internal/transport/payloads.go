package transport

import "github.com/friendlink-dev/friendlink/internal/model"

// HelloPayload announces a peer's identity and advertised endpoint.
type HelloPayload struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	Endpoint    string `json:"endpoint"`
}

// PeerSummary is one entry in a hello_ack's peer list.
type PeerSummary struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	Endpoint    string `json:"endpoint"`
	Online      bool   `json:"online"`
}

// HelloAckPayload is the response to a successful hello.
type HelloAckPayload struct {
	PeerID      string        `json:"peer_id"`
	DisplayName string        `json:"display_name"`
	Endpoint    string        `json:"endpoint"`
	Peers       []PeerSummary `json:"peers"`
}

// StateRequestPayload carries no fields; its presence is the request.
type StateRequestPayload struct{}

// StateResponsePayload returns the responder's full SyncState.
type StateResponsePayload struct {
	PeerID      string          `json:"peer_id"`
	DisplayName string          `json:"display_name"`
	Endpoint    string          `json:"endpoint"`
	State       model.SyncState `json:"state"`
}

// FileRequestPayload asks a peer for the bytes behind one CLE key.
type FileRequestPayload struct {
	Key string `json:"key"`
}

// FileResponsePayload answers a file request.
type FileResponsePayload struct {
	Key      string  `json:"key"`
	Found    bool    `json:"found"`
	SHA256   *string `json:"sha256,omitempty"`
	BytesB64 *string `json:"bytes_b64,omitempty"`
	Message  *string `json:"message,omitempty"`
}

// ErrorPayload is the body of a PayloadError frame.
type ErrorPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
