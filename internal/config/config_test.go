package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"github.com/menta2k/pointrect/pkg/merge"
	"github.com/menta2k/pointrect/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	c := Default()
	c.Predictor.URL = ""
	c.Predictor.Concurrency = 0
	c.Predictor.Matcher = "fuzzy"
	c.Server.Backend = "tensorflow"
	c.Logging.Format = "xml"

	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if n := len(multierr.Errors(err)); n != 5 {
		t.Errorf("expected 5 errors, got %d: %v", n, err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.json")
	c := Default()
	c.Predictor.ConnectionTTL = Duration(30 * time.Second)
	c.Predictor.Matcher = "iou"
	c.Predictor.IoU = 0.8
	if err := c.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"connection_ttl": "30s"`) {
		t.Errorf("duration not written as string:\n%s", data)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, loaded); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"predictor":{"url":"http://remote:9000"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Predictor.URL != "http://remote:9000" {
		t.Errorf("url not loaded: %q", c.Predictor.URL)
	}
	if c.Server.MaxBodyBytes != Default().Server.MaxBodyBytes {
		t.Error("unset fields should keep defaults")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Listen == "" {
		t.Error("expected defaults")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvURL:      "http://env:1",
		EnvBackend:  "ollama",
		EnvModel:    "llava",
		EnvListen:   ":9999",
		EnvLogLevel: " debug ",
	}
	c := Default()
	c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	got := []string{c.Predictor.URL, c.Server.Backend, c.Server.Model, c.Server.Listen, c.Logging.Level}
	want := []string{"http://env:1", "ollama", "llava", ":9999", "debug"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"1m30s","b":1000000000}`), &d); err != nil {
		t.Fatal(err)
	}
	if time.Duration(d.A) != 90*time.Second || time.Duration(d.B) != time.Second {
		t.Errorf("unexpected durations %v %v", time.Duration(d.A), time.Duration(d.B))
	}
	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &d); err == nil {
		t.Error("expected parse error")
	}
}

func TestMatcher(t *testing.T) {
	c := Default()
	c.Predictor.Matcher = "tolerance"
	c.Predictor.Tolerance = 1
	m, err := c.Matcher()
	if err != nil {
		t.Fatal(err)
	}
	a := types.BoundingBox{Left: 10, Top: 10, Width: 5, Height: 5}
	b := types.BoundingBox{Left: 10.5, Top: 10, Width: 5, Height: 5}
	if !m.Match(a, b) {
		t.Error("expected tolerance match")
	}
	if merge.Exact.Match(a, b) {
		t.Error("exact matcher should not match shifted boxes")
	}
}

func TestBackendConfig(t *testing.T) {
	c := Default()
	c.Server.Backend = "llamacpp"
	c.Vision.WindowSizes = []float64{0.5}
	bc := c.BackendConfig()
	if bc.Backend != "llamacpp" || bc.SendMaxDim != 1536 || bc.Vision == nil || bc.Vision.WindowSizes[0] != 0.5 {
		t.Errorf("unexpected backend config %+v", bc)
	}
}
