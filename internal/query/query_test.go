package query

import (
	"context"
	"net"
	"testing"
	"time"
)

// fakeServer binds a real UDP socket and replies to queries per a caller
// supplied handler, so Client.Probe exercises the real net.Conn path.
func fakeServer(t *testing.T, handle func(query []byte) []byte) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			resp := handle(append([]byte{}, buf[:n]...))
			if resp != nil {
				conn.WriteToUDP(resp, addr)
			}
		}
	}()
	return conn
}

func TestProbeA2SInfoSuccess(t *testing.T) {
	resp := append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 'I'},
		buildSourceInfoPayload("srv", "de_dust2", "cstrike", "Counter-Strike", 5, 16)...)

	conn := fakeServer(t, func(query []byte) []byte { return resp })
	host, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())

	c := &Client{}
	port := mustAtoi(t, portStr)
	info, err := c.Probe(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Name != "srv" || info.Map != "de_dust2" || info.Players != 5 || info.MaxPlayers != 16 {
		t.Errorf("info = %+v", info)
	}
}

func TestProbeFollowsChallenge(t *testing.T) {
	var sent int
	challengeResp := []byte{0xFF, 0xFF, 0xFF, 0xFF, 'A', 0xDE, 0xAD, 0xBE, 0xEF}
	infoResp := append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 'I'},
		buildSourceInfoPayload("srv2", "cs_office", "cstrike", "Counter-Strike", 1, 10)...)

	conn := fakeServer(t, func(query []byte) []byte {
		sent++
		if len(query) > 0 && query[len(query)-1] == 0xEF {
			return infoResp
		}
		return challengeResp
	})
	host, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())

	c := &Client{}
	info, err := c.Probe(context.Background(), host, mustAtoi(t, portStr))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Name != "srv2" {
		t.Errorf("info = %+v", info)
	}
	if sent != 2 {
		t.Errorf("expected exactly 2 datagrams sent, got %d", sent)
	}
}

func TestProbeLegacyInfo(t *testing.T) {
	legacy := []byte(`\hostname\Legacy Box\map\crossfire\players\3\max\20\`)
	resp := append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 'm'}, legacy...)

	conn := fakeServer(t, func(query []byte) []byte { return resp })
	host, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())

	c := &Client{}
	info, err := c.Probe(context.Background(), host, mustAtoi(t, portStr))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Name != "Legacy Box" || info.Map != "crossfire" || info.Players != 3 || info.MaxPlayers != 20 {
		t.Errorf("info = %+v", info)
	}
}

func TestProbeUnknownTypeYieldsEmpty(t *testing.T) {
	resp := []byte{0xFF, 0xFF, 0xFF, 0xFF, 'X'}
	conn := fakeServer(t, func(query []byte) []byte { return resp })
	host, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())

	c := &Client{}
	info, err := c.Probe(context.Background(), host, mustAtoi(t, portStr))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info != (ServerInfo{}) {
		t.Errorf("expected empty info for unknown type, got %+v", info)
	}
}

func TestProbeTimeoutOnNoResponse(t *testing.T) {
	// Bind but never answer.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	host, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())

	c := &Client{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Probe(ctx, host, mustAtoi(t, portStr))
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestDiscoverRangeFindsRespondingPorts(t *testing.T) {
	resp := append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 'I'},
		buildSourceInfoPayload("auto-found", "de_dust2", "cstrike", "Counter-Strike", 1, 16)...)
	live := fakeServer(t, func(query []byte) []byte { return resp })
	_, livePortStr, _ := net.SplitHostPort(live.LocalAddr().String())
	livePort := mustAtoi(t, livePortStr)

	// A bound-but-silent socket stands in for "no server on this port".
	dead, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer dead.Close()
	_, deadPortStr, _ := net.SplitHostPort(dead.LocalAddr().String())
	deadPort := mustAtoi(t, deadPortStr)

	c := &Client{}
	found := c.DiscoverRange(context.Background(), "127.0.0.1", []int{livePort, deadPort})

	if len(found) != 1 {
		t.Fatalf("DiscoverRange returned %d entries, want 1: %+v", len(found), found)
	}
	if found[0].Port != livePort {
		t.Errorf("DiscoverRange found port %d, want %d", found[0].Port, livePort)
	}
}

func buildSourceInfoPayload(name, mapName, folder, game string, players, maxPlayers byte) []byte {
	var out []byte
	out = append(out, 0x11) // protocol byte
	out = append(out, []byte(name)...)
	out = append(out, 0)
	out = append(out, []byte(mapName)...)
	out = append(out, 0)
	out = append(out, []byte(folder)...)
	out = append(out, 0)
	out = append(out, []byte(game)...)
	out = append(out, 0)
	out = append(out, 0x01, 0x00) // app id
	out = append(out, players, maxPlayers)
	return out
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}
