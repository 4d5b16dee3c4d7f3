package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func newStore(t *testing.T, p string) *Store {
	t.Helper()
	s, err := NewStore(p, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestLoad_MissingFileWritesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	s := newStore(t, p)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Defaults()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
	again, err := s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.NodeName != "Unnamed" || again.NumBlocks != 4 || again.MaxNewTokens != 1024 {
		t.Fatalf("unexpected reloaded cfg: %+v", again)
	}
}

func TestLoad_OlderSchemaBackfillsDefaults(t *testing.T) {
	d := t.TempDir()
	// written by a release that only knew four keys
	p := writeTempFile(t, d, "config.yaml", "node_name: alpha\ndevice: 0\nmodel_id: 2\nnum_blocks: 8\n")
	cfg, err := newStore(t, p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Defaults()
	if cfg.NodeName != "alpha" || cfg.ModelID != 2 || cfg.NumBlocks != 8 {
		t.Fatalf("persisted values lost: %+v", cfg)
	}
	if cfg.GenerationTemplate != def.GenerationTemplate || cfg.SystemPrompt != def.SystemPrompt {
		t.Fatalf("template/system prompt not backfilled: %+v", cfg)
	}
	if cfg.MaxNewTokens != def.MaxNewTokens || cfg.TorchDType != def.TorchDType {
		t.Fatalf("max_new_tokens/torch_dtype not backfilled: %+v", cfg)
	}
	if cfg.Device != DeviceCPU {
		t.Fatalf("legacy device index 0 should map to cpu, got %q", cfg.Device)
	}
}

func TestLoad_EverySubsetKeepsAllKeys(t *testing.T) {
	values := map[string]string{
		"node_name":      "n1",
		"device":         "cuda:1",
		"model_id":       "3",
		"token":          "hf_x",
		"num_blocks":     "-1",
		"system_prompt":  "be brief",
		"max_new_tokens": "64",
		"torch_dtype":    "bfloat16",
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	for mask := 0; mask < 1<<len(keys); mask++ {
		var b strings.Builder
		present := map[string]bool{}
		for i, k := range keys {
			if mask&(1<<i) != 0 {
				b.WriteString(k + ": " + values[k] + "\n")
				present[k] = true
			}
		}
		p := writeTempFile(t, t.TempDir(), "c.yaml", b.String())
		cfg, err := newStore(t, p).Load()
		if err != nil {
			t.Fatalf("mask %b: %v", mask, err)
		}
		def := Defaults()
		check := func(key string, got, persisted, fallback any) {
			want := fallback
			if present[key] {
				want = persisted
			}
			if got != want {
				t.Fatalf("mask %b key %s: got %v want %v", mask, key, got, want)
			}
		}
		check("node_name", cfg.NodeName, "n1", def.NodeName)
		check("device", cfg.Device, DeviceRef("cuda:1"), def.Device)
		check("model_id", cfg.ModelID, 3, def.ModelID)
		check("token", cfg.Token, "hf_x", def.Token)
		check("num_blocks", cfg.NumBlocks, Blocks(-1), def.NumBlocks)
		check("system_prompt", cfg.SystemPrompt, "be brief", def.SystemPrompt)
		check("max_new_tokens", cfg.MaxNewTokens, 64, def.MaxNewTokens)
		check("torch_dtype", cfg.TorchDType, "bfloat16", def.TorchDType)
		if cfg.GenerationTemplate != def.GenerationTemplate {
			t.Fatalf("mask %b: generation_template not backfilled", mask)
		}
	}
}

func TestLoad_LegacyEncodings(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "config.yaml", "node_name: n\ndevice: 2\nnum_blocks: '12'\n")
	cfg, err := newStore(t, p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != "cuda:1" {
		t.Fatalf("device index 2 should map to cuda:1, got %q", cfg.Device)
	}
	if cfg.NumBlocks != 12 {
		t.Fatalf("quoted num_blocks not parsed: %d", cfg.NumBlocks)
	}
}

func TestLoad_CorruptFileIsSurfaced(t *testing.T) {
	d := t.TempDir()
	content := "node_name: [unterminated\n"
	p := writeTempFile(t, d, "config.yaml", content)
	_, err := newStore(t, p).Load()
	if err == nil {
		t.Fatalf("expected corruption error")
	}
	if !IsCorruption(err) {
		t.Fatalf("expected *CorruptionError, got %T: %v", err, err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != content {
		t.Fatalf("corrupt file must not be rewritten, got %q", string(b))
	}
}

func TestLoad_BadNumBlocksIsCorruption(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "config.yaml", "num_blocks: lots\n")
	if _, err := newStore(t, p).Load(); !IsCorruption(err) {
		t.Fatalf("expected corruption, got %v", err)
	}
}

func TestSave_RoundTripPreservesUnknownKeys(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "config.yaml", "node_name: n\nfuture_flag: true\n")
	s := newStore(t, p)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.NodeName = "renamed"
	if err := s.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, _ := os.ReadFile(p)
	if !strings.Contains(string(b), "future_flag: true") {
		t.Fatalf("unknown key dropped on save:\n%s", string(b))
	}
	reloaded, err := s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.NodeName != "renamed" {
		t.Fatalf("save not persisted: %+v", reloaded)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	s := newStore(t, p)
	cfg := Defaults()
	cfg.NodeName = "  "
	if err := s.Save(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("invalid config must not be written")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"auto blocks", func(c *Config) { c.NumBlocks = AutoBlocks }, true},
		{"zero blocks", func(c *Config) { c.NumBlocks = 0 }, false},
		{"too few tokens", func(c *Config) { c.MaxNewTokens = 4 }, false},
		{"too many tokens", func(c *Config) { c.MaxNewTokens = MaxNewTokens + 1 }, false},
		{"negative model", func(c *Config) { c.ModelID = -1 }, false},
	}
	for _, tc := range cases {
		cfg := Defaults()
		tc.mut(&cfg)
		if err := cfg.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: Validate()=%v", tc.name, err)
		}
	}
}
