package config

import "testing"

func TestBackendPolicyAllowed(t *testing.T) {
	nets, err := parseCIDRs("10.13.13.0/24,127.0.0.0/8")
	if err != nil {
		t.Fatalf("parseCIDRs: %v", err)
	}
	policy := BackendPolicy{nets: nets}

	cases := []struct {
		host string
		want bool
	}{
		{"10.13.13.2", true},
		{"10.13.13.255", true},
		{"127.0.0.1", true},
		{"8.8.8.8", false},
		{"10.13.14.1", false},
		{"not-an-ip.example.com", false},
		{"", false},
	}
	for _, c := range cases {
		if got := policy.Allowed(c.host); got != c.want {
			t.Errorf("Allowed(%q) = %v, want %v", c.host, got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_ALLOWED_BACKENDS", "")
	t.Setenv("RELAY_DEFAULT_BACKEND_HOST", "")
	t.Setenv("RELAY_DEFAULT_BACKEND_PORT", "")
	t.Setenv("RELAY_IDLE_SEC", "")
	t.Setenv("PORT", "")
	t.Setenv("SERVER_LIST", "")
	t.Setenv("RELAY_AUTH_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultHost != "127.0.0.1" || cfg.DefaultPort != 27015 {
		t.Errorf("unexpected default backend: %+v", cfg)
	}
	if cfg.IdleTimeout.Seconds() != 300 {
		t.Errorf("IdleTimeout = %v, want 300s", cfg.IdleTimeout)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if !cfg.BackendPolicy.Allowed("127.0.0.1") {
		t.Error("default policy should allow loopback")
	}
	if len(cfg.ServerList) != 1 || cfg.ServerList[0].Host != "127.0.0.1" {
		t.Errorf("default server list = %+v", cfg.ServerList)
	}
}

func TestLoadServerList(t *testing.T) {
	t.Setenv("SERVER_LIST", "10.13.13.2:27015,10.13.13.3")
	t.Setenv("RELAY_DEFAULT_BACKEND_PORT", "27020")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ServerList) != 2 {
		t.Fatalf("expected 2 servers, got %d: %+v", len(cfg.ServerList), cfg.ServerList)
	}
	if cfg.ServerList[0].Port != 27015 {
		t.Errorf("server[0].Port = %d, want 27015", cfg.ServerList[0].Port)
	}
	if cfg.ServerList[1].Port != 27020 {
		t.Errorf("server[1].Port = %d, want default 27020", cfg.ServerList[1].Port)
	}
}

func TestLoadBadCIDR(t *testing.T) {
	t.Setenv("RELAY_ALLOWED_BACKENDS", "not-a-cidr")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed CIDR")
	}
}
