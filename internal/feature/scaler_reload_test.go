package feature

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

const scalerParamsYAML = `
channels:
  temperature:
    offset: -40
    scale: 125
  pressure:
    offset: 800
    scale: 400
`

func TestLoadScalerParams_AppliesOffsetAndScale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scaler.yaml")
	if err := os.WriteFile(path, []byte(scalerParamsYAML), 0644); err != nil {
		t.Fatalf("write params file: %v", err)
	}

	sc := NewScaler()
	if err := LoadScalerParams(path, sc); err != nil {
		t.Fatalf("LoadScalerParams: %v", err)
	}

	got, ok := sc.normalize(domain.ChannelTemperature, 85)
	if !ok {
		t.Fatalf("expected temperature channel to be normalizable")
	}
	if got != 1.0 {
		t.Fatalf("expected normalized max temperature == 1.0, got %v", got)
	}
}

func TestWatchScalerParams_ReappliesOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scaler.yaml")
	if err := os.WriteFile(path, []byte(scalerParamsYAML), 0644); err != nil {
		t.Fatalf("write params file: %v", err)
	}

	sc := NewScaler()
	stop, err := WatchScalerParams(path, sc)
	if err != nil {
		t.Fatalf("WatchScalerParams: %v", err)
	}
	defer stop()

	updated := `
channels:
  temperature:
    offset: -10
    scale: 50
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite params file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := sc.normalize(domain.ChannelTemperature, 40); ok && got == 1.0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("scaler params were not reloaded from disk in time")
}
