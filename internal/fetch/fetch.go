// Package fetch implements the binary fetcher (C5): for each lock entry
// whose on-disk artifact is missing or explicitly targeted, it probes
// trusted peers (preferred peer first) over the signed transport, falls
// back to an external provider, and verifies downloaded bytes before
// writing them to disk: peer bytes against the SHA-256 carried in the
// peer's file response, provider bytes against the entry's declared hash.
package fetch

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

// PeerEndpoint is one trusted, online peer's dial target.
type PeerEndpoint struct {
	PeerID   string
	Endpoint string
}

// Provider is the external fallback binary source (spec.md §6): given a
// CLE, yield raw bytes or ok=false. Implementations live outside this
// package; the core contract is it is only ever consulted when the
// entry declares a hash, and the result is always verified.
type Provider interface {
	Fetch(e model.LockEntry) (data []byte, ok bool, err error)
}

// Logger is the narrow logging surface fetch depends on.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// Result summarizes one fetch pass over a lock map.
type Result struct {
	Succeeded []string // keys written successfully
	Failed    []string // keys that could not be resolved anywhere
	Warnings  []string
}

// Fetcher resolves CLE binaries for one instance.
type Fetcher struct {
	Collector *collector.Collector
	Client    transport.Client
	Provider  Provider
	Logger    Logger
}

// New returns a Fetcher. A nil provider means no external fallback is
// attempted. A nil logger is replaced with a no-op logger.
func New(c *collector.Collector, client transport.Client, provider Provider, logger Logger) *Fetcher {
	if logger == nil {
		logger = nullLogger{}
	}
	return &Fetcher{Collector: c, Client: client, Provider: provider, Logger: logger}
}

// Run fetches binaries for the given lock entries (spec.md §4.5). peers
// is the trusted, online peer endpoint table; preferred maps a CLE key
// to the peer id reconcile determined should be tried first.
func (f *Fetcher) Run(entries []model.LockEntry, peers []PeerEndpoint, preferred map[string]string) Result {
	var res Result

	endpointByPeer := make(map[string]string, len(peers))
	for _, p := range peers {
		endpointByPeer[p.PeerID] = p.Endpoint
	}

	for _, e := range entries {
		if !e.SupportsBinarySync() {
			continue
		}

		_, hasPreferred := preferred[e.Key()]
		if missing := f.Collector.EnsureBinary(e); len(missing) == 0 && !hasPreferred {
			continue
		}

		if f.fetchOne(e, peers, endpointByPeer, preferred) {
			res.Succeeded = append(res.Succeeded, e.Key())
		} else {
			res.Failed = append(res.Failed, e.Key())
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to fetch %s from any peer or provider", e.Key()))
		}
	}

	return res
}

func (f *Fetcher) fetchOne(e model.LockEntry, peers []PeerEndpoint, endpointByPeer map[string]string, preferred map[string]string) bool {
	order := probeOrder(e.Key(), peers, preferred)

	for _, peerID := range order {
		endpoint, ok := endpointByPeer[peerID]
		if !ok {
			continue
		}

		resp, err := f.Client.RequestFile(endpoint, e.Key())
		if err != nil {
			f.Logger.Printf("friendlink: file_request to %s for %s failed: %v", peerID, e.Key(), err)
			continue
		}
		if !resp.Found {
			continue
		}
		if resp.BytesB64 == nil {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(*resp.BytesB64)
		if err != nil {
			continue
		}

		if resp.SHA256 != nil {
			sum := sha256.Sum256(data)
			if !strings.EqualFold(hex.EncodeToString(sum[:]), strings.TrimSpace(*resp.SHA256)) {
				f.Logger.Printf("friendlink: sha256 mismatch for %s from %s, trying next peer", e.Key(), peerID)
				continue
			}
		}

		if err := f.Collector.WriteBinary(e, data); err != nil {
			f.Logger.Printf("friendlink: write binary for %s failed: %v", e.Key(), err)
			continue
		}
		return true
	}

	return f.fetchFromProvider(e)
}

// probeOrder builds the endpoint probe order: preferred peer first (if
// trusted & online, i.e. present in peers), then every other trusted
// online peer (spec.md §4.5 step 2).
func probeOrder(key string, peers []PeerEndpoint, preferred map[string]string) []string {
	order := make([]string, 0, len(peers))
	seen := make(map[string]struct{}, len(peers))

	if p, ok := preferred[key]; ok {
		for _, pe := range peers {
			if pe.PeerID == p {
				order = append(order, p)
				seen[p] = struct{}{}
				break
			}
		}
	}

	for _, pe := range peers {
		if _, ok := seen[pe.PeerID]; ok {
			continue
		}
		order = append(order, pe.PeerID)
		seen[pe.PeerID] = struct{}{}
	}

	return order
}

// fetchFromProvider falls back to the external provider interface when
// no peer could satisfy the request, verifying against the entry's
// preferred declared hash (sha512 over sha256) per spec.md §4.5 step 4.
func (f *Fetcher) fetchFromProvider(e model.LockEntry) bool {
	if f.Provider == nil {
		return false
	}

	alg, digest, ok := e.PreferredHash()
	if !ok {
		return false
	}

	data, found, err := f.Provider.Fetch(e)
	if err != nil || !found {
		return false
	}

	if !verifyHash(alg, digest, data) {
		f.Logger.Printf("friendlink: provider bytes for %s failed %s verification", e.Key(), alg)
		return false
	}

	if err := f.Collector.WriteBinary(e, data); err != nil {
		f.Logger.Printf("friendlink: write provider binary for %s failed: %v", e.Key(), err)
		return false
	}
	return true
}

// verifyHash checks raw bytes against a canonicalized declared digest
// using the declared algorithm (spec.md §4.5, "Hash verification
// semantics").
func verifyHash(alg, digest string, data []byte) bool {
	var sum []byte
	switch alg {
	case "sha512":
		s := sha512.Sum512(data)
		sum = s[:]
	case "sha256":
		s := sha256.Sum256(data)
		sum = s[:]
	default:
		return true // unverified (accept), per spec.md §4.5
	}
	return strings.EqualFold(hex.EncodeToString(sum), strings.TrimSpace(digest))
}
