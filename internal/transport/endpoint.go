package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// LocalIPGuess opens a UDP socket "connected" to a well-known external
// address and reads back the local address libc/the kernel picked for
// that route — a cheap way to guess the outward-facing LAN IP without
// sending any packets. Falls back to loopback on any failure (spec.md
// §4.3, "Endpoint discovery").
func LocalIPGuess() net.IP {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return net.IPv4(127, 0, 0, 1)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return net.IPv4(127, 0, 0, 1)
	}
	return addr.IP
}

// EndpointForPort formats the guessed local IP and a port as a dial
// target.
func EndpointForPort(port int) string {
	return fmt.Sprintf("%s:%d", LocalIPGuess(), port)
}

// NormalizePeerEndpoint rewrites a hello's advertised endpoint when it is
// loopback, unspecified, or a different address of the same family as the
// socket's observed remote address, substituting the observed IP while
// keeping the advertised port (spec.md §4.3, "Endpoint discovery").
func NormalizePeerEndpoint(advertisedEndpoint string, observedAddr net.Addr) string {
	if observedAddr == nil {
		return advertisedEndpoint
	}

	observedIP, _, err := net.SplitHostPort(observedAddr.String())
	if err != nil {
		return advertisedEndpoint
	}
	observed := net.ParseIP(observedIP)
	if observed == nil {
		return advertisedEndpoint
	}

	advHost, advPort, err := net.SplitHostPort(advertisedEndpoint)
	if err != nil {
		return advertisedEndpoint
	}
	advertised := net.ParseIP(advHost)
	if advertised == nil {
		return advertisedEndpoint
	}

	advertisedIsV4 := advertised.To4() != nil
	observedIsV4 := observed.To4() != nil

	if advertised.IsLoopback() || advertised.IsUnspecified() ||
		(!advertised.Equal(observed) && advertisedIsV4 == observedIsV4) {
		return net.JoinHostPort(observed.String(), advPort)
	}

	return advertisedEndpoint
}

// ParsePort extracts the numeric port from a host:port endpoint string,
// tolerating an already-bare port.
func ParsePort(endpoint string) (int, error) {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		portStr = strings.TrimPrefix(endpoint, ":")
	}
	return strconv.Atoi(portStr)
}
