// Package query implements the Source Engine Query / CS1.6 legacy info
// protocol used to probe game servers for the /servers and /heartbeat
// endpoints.
package query

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oharashane/cs16relay/internal/config"
)

const (
	readTimeout = 1500 * time.Millisecond
	maxDatagram = 1024

	// discoverTimeout matches discover_cs16_servers' 0.5s "quick check"
	// deadline, shorter than a full Probe since a scan covers many ports.
	discoverTimeout = 500 * time.Millisecond

	respChallenge  = 'A'
	respSourceInfo = 'I'
	respLegacyInfo = 'm'
)

var connectionlessPrefix = []byte{0xFF, 0xFF, 0xFF, 0xFF}

var queries = [][]byte{
	append(append([]byte{}, connectionlessPrefix...), append([]byte{'T'}, []byte("Source Engine Query\x00")...)...),
	append(append([]byte{}, connectionlessPrefix...), []byte("info\x00")...),
	append(append([]byte{}, connectionlessPrefix...), []byte("players\x00")...),
}

// ServerInfo is the parsed result of a successful probe.
type ServerInfo struct {
	Name       string
	Map        string
	Players    int
	MaxPlayers int
	GameType   string
}

// Client issues Source Engine Query probes over UDP.
type Client struct {
	// Dialer allows tests to substitute a fake UDP endpoint. nil uses
	// net.DialTimeout.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Probe queries host:port, trying A2S_INFO, then the legacy "info" and
// "players" queries in order, following at most one challenge response per
// attempt, until one yields a non-empty ServerInfo.
func (c *Client) Probe(ctx context.Context, host string, port int) (ServerInfo, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var lastErr error
	for _, q := range queries {
		info, err := c.attempt(ctx, addr, q)
		if err != nil {
			lastErr = err
			continue
		}
		if info != (ServerInfo{}) {
			return info, nil
		}
	}
	if lastErr != nil {
		return ServerInfo{}, fmt.Errorf("probe %s: %w", addr, lastErr)
	}
	return ServerInfo{}, nil
}

func (c *Client) attempt(ctx context.Context, addr string, query []byte) (ServerInfo, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return ServerInfo{}, err
	}
	defer conn.Close()

	resp, err := c.roundTrip(conn, query)
	if err != nil {
		return ServerInfo{}, err
	}

	challenge, isChallenge := parseChallenge(resp)
	if isChallenge {
		if challenge == nil {
			return ServerInfo{}, nil
		}
		resp, err = c.roundTrip(conn, append(append([]byte{}, query...), challenge...))
		if err != nil {
			return ServerInfo{}, err
		}
	}

	return parseResponse(resp), nil
}

// DiscoverRange scans host across ports, probing each with a single quick
// A2S_INFO packet, and returns one ServerEntry per port that answers.
// Grounded on discover_cs16_servers' ports_to_check loop: unlike Probe, a
// scan does not chase a challenge response or fall back to legacy queries
// per port, trading completeness for a short per-port deadline across a
// wide range.
func (c *Client) DiscoverRange(ctx context.Context, host string, ports []int) []config.ServerEntry {
	var (
		mu    sync.Mutex
		found []config.ServerEntry
		wg    sync.WaitGroup
	)
	for _, port := range ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			if !c.quickProbe(ctx, host, port) {
				return
			}
			mu.Lock()
			found = append(found, config.ServerEntry{
				ID:   net.JoinHostPort(host, strconv.Itoa(port)),
				Host: host,
				Port: port,
			})
			mu.Unlock()
		}(port)
	}
	wg.Wait()
	return found
}

// quickProbe sends one A2S_INFO packet and reports whether anything
// answered within discoverTimeout, without following a challenge.
func (c *Client) quickProbe(ctx context.Context, host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(discoverTimeout))
	if _, err := conn.Write(queries[0]); err != nil {
		return false
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	return err == nil && n > 0
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	if c.Dialer != nil {
		return c.Dialer(ctx, addr)
	}
	d := net.Dialer{}
	return d.DialContext(ctx, "udp", addr)
}

func (c *Client) roundTrip(conn net.Conn, query []byte) ([]byte, error) {
	conn.SetDeadline(time.Now().Add(readTimeout))
	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("send query: %w", err)
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return buf[:n], nil
}

// parseChallenge recognizes a type-'A' challenge response and extracts its
// 4-byte token.
func parseChallenge(resp []byte) (challenge []byte, isChallenge bool) {
	if len(resp) < 5 || !bytes.Equal(resp[:4], connectionlessPrefix) {
		return nil, false
	}
	if resp[4] != respChallenge {
		return nil, false
	}
	if len(resp) < 9 {
		return nil, true
	}
	return append([]byte{}, resp[5:9]...), true
}

// parseResponse decodes a type-'I' (Source info) or type-'m' (legacy)
// response. Any other type, or a malformed payload, yields the zero value
// rather than an error — per spec, unknown types produce empty info and
// legacy parse failures fall back to offline rather than fabricated fields.
func parseResponse(resp []byte) ServerInfo {
	if len(resp) < 5 || !bytes.Equal(resp[:4], connectionlessPrefix) {
		return ServerInfo{}
	}
	payload := resp[5:]

	switch resp[4] {
	case respSourceInfo:
		return parseSourceInfo(payload)
	case respLegacyInfo:
		return parseLegacyInfo(payload)
	default:
		return ServerInfo{}
	}
}

func parseSourceInfo(data []byte) ServerInfo {
	if len(data) < 1 {
		return ServerInfo{}
	}
	pos := 1 // skip protocol byte

	name, pos, ok := readCString(data, pos)
	if !ok {
		return ServerInfo{}
	}
	mapName, pos, ok := readCString(data, pos)
	if !ok {
		return ServerInfo{Name: name}
	}
	_, pos, ok = readCString(data, pos) // folder
	if !ok {
		return ServerInfo{Name: name, Map: mapName}
	}
	_, pos, ok = readCString(data, pos) // game
	if !ok {
		return ServerInfo{Name: name, Map: mapName}
	}
	pos += 2 // app id
	if pos >= len(data) {
		return ServerInfo{Name: name, Map: mapName}
	}
	players := int(data[pos])
	pos++
	if pos >= len(data) {
		return ServerInfo{Name: name, Map: mapName, Players: players}
	}
	maxPlayers := int(data[pos])

	return ServerInfo{
		Name:       name,
		Map:        mapName,
		Players:    players,
		MaxPlayers: maxPlayers,
		GameType:   "cstrike",
	}
}

func readCString(data []byte, pos int) (string, int, bool) {
	if pos > len(data) {
		return "", pos, false
	}
	end := bytes.IndexByte(data[pos:], 0)
	if end == -1 {
		return "", pos, false
	}
	return string(data[pos : pos+end]), pos + end + 1, true
}

func parseLegacyInfo(data []byte) ServerInfo {
	text := string(data)
	if !strings.Contains(text, `\`) {
		return ServerInfo{}
	}
	parts := strings.Split(text, `\`)
	kv := make(map[string]string, len(parts)/2)
	for i := 1; i+1 < len(parts); i += 2 {
		kv[strings.TrimSpace(parts[i])] = strings.TrimSpace(parts[i+1])
	}

	info := ServerInfo{
		Name:     kv["hostname"],
		Map:      kv["map"],
		GameType: "cstrike",
	}
	if p, err := strconv.Atoi(kv["players"]); err == nil {
		info.Players = p
	}
	if m, err := strconv.Atoi(kv["max"]); err == nil {
		info.MaxPlayers = m
	}
	return info
}
