// Package sidecar implements the optional alternative topology where a
// separate front-end terminates WebRTC signaling and this process only
// bridges game packets over plain HTTP/WS ingress, per spec §4.H.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/oharashane/cs16relay/internal/config"
	"github.com/oharashane/cs16relay/internal/metrics"
	"github.com/oharashane/cs16relay/internal/protocol"
)

// Server is a standalone HTTP server for sidecar ingress/egress, grounded
// on wingthing's internal/direct.Server shape (Start/Close over a plain
// net.Listener).
type Server struct {
	Config  *config.Config
	Metrics *metrics.Registry
	Logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[[4]byte]*clientConn
	fanout   map[*websocket.Conn]struct{}
}

type clientConn struct {
	ip   [4]byte
	conn *net.UDPConn
}

// Start begins listening on addr and serving /game-packet and /ws-from-go.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.conns = make(map[[4]byte]*clientConn)
	s.fanout = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /game-packet", s.handleGamePacket)
	mux.HandleFunc("GET /ws-from-go", s.handleWSFromGo)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sidecar listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger().Info("sidecar listening", "addr", addr)
	return http.Serve(ln, mux)
}

// Close stops the listener and every per-client UDP socket.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[[4]byte]*clientConn)
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) handleGamePacket(w http.ResponseWriter, r *http.Request) {
	if len(s.Config.ServerList) == 0 {
		http.Error(w, "no servers configured", http.StatusInternalServerError)
		return
	}

	var pkt protocol.GamePacket
	if err := json.NewDecoder(r.Body).Decode(&pkt); err != nil {
		http.Error(w, "malformed game packet", http.StatusBadRequest)
		return
	}

	conn, err := s.clientSocket(pkt.ClientIP)
	if err != nil {
		http.Error(w, "udp bind failed", http.StatusInternalServerError)
		return
	}

	backend := s.Config.ServerList[0]
	backendAddr := &net.UDPAddr{IP: net.ParseIP(backend.Host), Port: backend.Port}
	if _, err := conn.conn.WriteToUDP(pkt.Data, backendAddr); err != nil {
		http.Error(w, "udp send failed", http.StatusInternalServerError)
		return
	}
	if s.Metrics != nil {
		s.Metrics.GoToPython.Inc()
	}
	w.WriteHeader(http.StatusOK)
}

// clientSocket returns the UDP socket for a client IP, binding a fresh one
// and starting its reader goroutine on first ingress.
func (s *Server) clientSocket(ip [4]byte) (*clientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conns[ip]; ok {
		return c, nil
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen udp for client: %w", err)
	}
	c := &clientConn{ip: ip, conn: udpConn}
	s.conns[ip] = c
	go s.pumpFromUDP(c)
	return c, nil
}

// pumpFromUDP reads datagrams from one client's backend socket and fans
// them out to every attached /ws-from-go connection.
func (s *Server) pumpFromUDP(c *clientConn) {
	buf := make([]byte, 2048)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := protocol.GamePacket{ClientIP: protocol.ClientIP(c.ip), Data: append([]byte(nil), buf[:n]...)}
		data, err := json.Marshal(pkt)
		if err != nil {
			continue
		}
		s.broadcast(data)
	}
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.fanout))
	for wsConn := range s.fanout {
		conns = append(conns, wsConn)
	}
	s.mu.Unlock()

	for _, wsConn := range conns {
		if err := wsConn.Write(context.Background(), websocket.MessageText, data); err == nil && s.Metrics != nil {
			s.Metrics.PythonToGo.Inc()
		}
	}
}

func (s *Server) handleWSFromGo(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	s.mu.Lock()
	s.fanout[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.fanout, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
