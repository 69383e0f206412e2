package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "poolgen.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{"mode":"proxy","proxy":{"upstreams":[{"name":"a","url":"pool.example.com:3333"}]}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket != "/tmp/poolgen.sock" {
		t.Errorf("Socket default = %q, want /tmp/poolgen.sock", cfg.Socket)
	}
	if cfg.ClientVersion == "" {
		t.Errorf("ClientVersion default should not be empty")
	}
	if len(cfg.Proxy.Upstreams) != 1 || cfg.Proxy.Upstreams[0].Name != "a" {
		t.Errorf("unexpected upstreams: %+v", cfg.Proxy.Upstreams)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"proxy with upstream", Config{Mode: "proxy", Proxy: ProxyConfig{Upstreams: []Upstream{{URL: "x"}}}}, false},
		{"proxy without upstream", Config{Mode: "proxy"}, true},
		{"server with endpoint", Config{Mode: "server", Server: ServerConfig{Endpoints: []RPCEndpoint{{Host: "x"}}}}, false},
		{"server without endpoint", Config{Mode: "server"}, true},
		{"unknown mode", Config{Mode: "bogus"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
