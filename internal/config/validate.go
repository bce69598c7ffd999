package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"
)

const (
	minFPS = 1
	maxFPS = 240

	minBitrateFloor   = 100_000
	maxBitrateCeiling = 50_000_000
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validICESchemes = map[string]bool{
	"stun":  true,
	"turn":  true,
	"turns": true,
}

// ValidationResult splits config problems into Fatals (block startup) and
// Warnings (logged, field auto-clamped to a safe value, startup continues).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns every fatal and warning error, fatals first.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Malformed or
// unsafe-to-start-with values (bad listen address, no usable primary ICE
// server, control characters in a file path) are fatal. Out-of-range
// numeric settings are clamped to a safe value and reported as warnings, so
// a typo in a tuning knob never prevents the host from starting.
func (c *HostConfig) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("listen_addr %q is not a valid host:port: %w", c.ListenAddr, err))
		}
	}

	if len(c.ICEServers) == 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("ice_servers must not be empty"))
	} else {
		if u, err := url.Parse(c.ICEServers[0]); err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("ice_servers[0] %q is not a valid URL: %w", c.ICEServers[0], err))
		} else if !validICESchemes[u.Scheme] {
			result.Fatals = append(result.Fatals, fmt.Errorf("ice_servers[0] scheme must be stun, turn, or turns, got %q", u.Scheme))
		}
		for _, raw := range c.ICEServers[1:] {
			u, err := url.Parse(raw)
			if err != nil || !validICESchemes[u.Scheme] {
				result.Warnings = append(result.Warnings, fmt.Errorf("ice_servers entry %q has an unrecognized scheme, will be dropped", raw))
			}
		}
	}

	if c.AuthFile != "" {
		for _, r := range c.AuthFile {
			if unicode.IsControl(r) {
				result.Fatals = append(result.Fatals, fmt.Errorf("auth_file contains control characters"))
				break
			}
		}
	}

	if c.InitialFPS < minFPS {
		result.Warnings = append(result.Warnings, fmt.Errorf("initial_fps %d is below minimum %d, clamping", c.InitialFPS, minFPS))
		c.InitialFPS = minFPS
	} else if c.InitialFPS > maxFPS {
		result.Warnings = append(result.Warnings, fmt.Errorf("initial_fps %d exceeds maximum %d, clamping", c.InitialFPS, maxFPS))
		c.InitialFPS = maxFPS
	}

	if c.MinBitrate < minBitrateFloor {
		result.Warnings = append(result.Warnings, fmt.Errorf("min_bitrate %d is below minimum %d, clamping", c.MinBitrate, minBitrateFloor))
		c.MinBitrate = minBitrateFloor
	}
	if c.MaxBitrate > maxBitrateCeiling {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_bitrate %d exceeds maximum %d, clamping", c.MaxBitrate, maxBitrateCeiling))
		c.MaxBitrate = maxBitrateCeiling
	}
	if c.MaxBitrate < c.MinBitrate {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_bitrate %d is below min_bitrate %d, clamping", c.MaxBitrate, c.MinBitrate))
		c.MaxBitrate = c.MinBitrate
	}
	if c.InitialBitrate < c.MinBitrate {
		result.Warnings = append(result.Warnings, fmt.Errorf("initial_bitrate %d is below min_bitrate %d, clamping", c.InitialBitrate, c.MinBitrate))
		c.InitialBitrate = c.MinBitrate
	} else if c.InitialBitrate > c.MaxBitrate {
		result.Warnings = append(result.Warnings, fmt.Errorf("initial_bitrate %d exceeds max_bitrate %d, clamping", c.InitialBitrate, c.MaxBitrate))
		c.InitialBitrate = c.MaxBitrate
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return result
}
