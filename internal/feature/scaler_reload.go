package feature

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ScalerParamsFile is the on-disk shape a refitting background task writes
// when it has new per-channel normalization parameters .
type ScalerParamsFile struct {
	Channels map[string]struct {
		Offset float64 `yaml:"offset"`
		Scale  float64 `yaml:"scale"`
	} `yaml:"channels"`
}

// LoadScalerParams reads and applies channel scale parameters from path
// onto sc, replacing any channel present in the file.
func LoadScalerParams(path string, sc *Scaler) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load scaler params: %w", err)
	}
	var f ScalerParamsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse scaler params %s: %w", path, err)
	}
	for channel, p := range f.Channels {
		sc.Refit(channel, p.Offset, p.Scale)
	}
	return nil
}

// WatchScalerParams applies path once, then re-applies it to sc every time
// it changes on disk, until stop is called. A malformed rewrite is
// ignored (sc keeps its last-known-good parameters) — normalization
// failure must never crash the feature pipeline .
func WatchScalerParams(path string, sc *Scaler) (stop func() error, err error) {
	if err := LoadScalerParams(path, sc); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch scaler params: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch scaler params %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					_ = LoadScalerParams(path, sc)
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return fw.Close()
	}, nil
}
