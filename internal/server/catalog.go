package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/oharashane/cs16relay/internal/config"
	"github.com/oharashane/cs16relay/internal/query"
)

// serverStatus is one /servers or /heartbeat catalog entry.
type serverStatus struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Name       string `json:"name,omitempty"`
	Map        string `json:"map,omitempty"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	GameType   string `json:"game_type,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func probeCatalog(ctx context.Context, entries []config.ServerEntry, client *query.Client) []serverStatus {
	out := make([]serverStatus, 0, len(entries))
	for _, e := range entries {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		info, err := client.Probe(probeCtx, e.Host, e.Port)
		cancel()

		status := serverStatus{Host: e.Host, Port: e.Port}
		if err != nil {
			status.Status = "offline"
			status.Error = err.Error()
			out = append(out, status)
			continue
		}
		if info.Name == "" && info.Map == "" {
			status.Status = "offline"
			out = append(out, status)
			continue
		}
		status.Name = info.Name
		status.Map = info.Map
		status.Players = info.Players
		status.MaxPlayers = info.MaxPlayers
		status.GameType = info.GameType
		status.Status = "online"
		out = append(out, status)
	}
	return out
}

// discoverPorts are the common CS1.6 dedicated-server ports checked to
// supplement the configured catalog, matching discover_cs16_servers'
// ports_to_check.
var discoverPorts = []int{27015, 27016, 27017, 27018, 27019}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	entries := s.Config.ServerList
	discovered := s.Query.DiscoverRange(r.Context(), s.Config.DefaultHost, unconfiguredPorts(entries, discoverPorts))
	entries = append(append([]config.ServerEntry{}, entries...), discovered...)

	catalog := probeCatalog(r.Context(), entries, s.Query)
	writeJSON(w, http.StatusOK, catalog)
}

// unconfiguredPorts filters out ports already present in entries, so
// discovery never re-probes a server already in the static catalog.
func unconfiguredPorts(entries []config.ServerEntry, ports []int) []int {
	configured := make(map[int]bool, len(entries))
	for _, e := range entries {
		configured[e.Port] = true
	}
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if !configured[p] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	catalog := probeCatalog(r.Context(), s.Config.ServerList, s.Query)

	resp := struct {
		Servers []serverStatus `json:"servers"`
		Sidecar string         `json:"sidecar,omitempty"`
	}{Servers: catalog}

	if s.SidecarHealthURL != "" {
		resp.Sidecar = probeSidecar(r.Context(), s.SidecarHealthURL)
	}
	writeJSON(w, http.StatusOK, resp)
}

func probeSidecar(ctx context.Context, url string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "offline"
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "offline"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "offline"
	}
	return "online"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
