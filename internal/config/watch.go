package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"easytrip/internal/eligibility"
)

// LoadRules reads only the booking block of the config file at path.
func LoadRules(path string) (eligibility.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return eligibility.Rules{}, err
	}
	var doc struct {
		Booking BookingConfig `yaml:"booking"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return eligibility.Rules{}, fmt.Errorf("parse config: %w", err)
	}
	if err := doc.Booking.Validate(); err != nil {
		return eligibility.Rules{}, err
	}
	return doc.Booking.Rules(), nil
}

// WatchRules reloads the booking rules whenever the config file changes and
// passes them to onUpdate. It performs an initial load before returning.
// A file that fails to parse or validate is skipped and the previous rules
// stay in effect.
func WatchRules(ctx context.Context, path string, interval time.Duration, onUpdate func(eligibility.Rules)) error {
	if path == "" {
		path = DefaultPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	rules, err := LoadRules(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(rules)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				rules, err := LoadRules(path)
				if err != nil {
					continue
				}
				lastMod = info.ModTime()
				if onUpdate != nil {
					onUpdate(rules)
				}
			}
		}
	}()

	return nil
}
