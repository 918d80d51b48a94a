// Package config resolves a session's flashing configuration from flags,
// environment variables and a project .env file, in that precedence order.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SessionConfig is everything internal/session needs to start one DnX
// flash: which files to push, which device to target, and how long to
// wait before giving up.
type SessionConfig struct {
	FirmwarePath string
	OsImagePath  string
	OsImageIndex int

	VendorID  uint16
	ProductID uint16

	ReadTimeoutSeconds      int
	HandshakeTimeoutSeconds int
}

var (
	loaded     *SessionConfig
	loadedOnce bool
)

// Load resolves a SessionConfig from the environment and the nearest
// .env file, then caches the result for the process lifetime: repeated
// calls never re-read disk.
func Load() (*SessionConfig, error) {
	if loaded != nil && loadedOnce {
		return loaded, nil
	}

	cfg := &SessionConfig{
		VendorID:                0x8086,
		OsImageIndex:            0,
		ReadTimeoutSeconds:      5,
		HandshakeTimeoutSeconds: 30,
	}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	applyEnvOverrides(cfg)

	loaded = cfg
	loadedOnce = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *SessionConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		applyKeyValue(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), cfg)
	}
}

func applyEnvOverrides(cfg *SessionConfig) {
	for _, key := range []string{
		"DEVICE_FIRMWARE_PATH", "DEVICE_OS_IMAGE_PATH", "DEVICE_OS_IMAGE_INDEX",
		"DEVICE_VENDOR_ID", "DEVICE_PRODUCT_ID",
		"DEVICE_READ_TIMEOUT_SECONDS", "DEVICE_HANDSHAKE_TIMEOUT_SECONDS",
	} {
		if v := os.Getenv(key); v != "" {
			applyKeyValue(key, v, cfg)
		}
	}
}

func applyKeyValue(key, value string, cfg *SessionConfig) {
	switch key {
	case "DEVICE_FIRMWARE_PATH":
		cfg.FirmwarePath = value
	case "DEVICE_OS_IMAGE_PATH":
		cfg.OsImagePath = value
	case "DEVICE_OS_IMAGE_INDEX":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.OsImageIndex = n
		}
	case "DEVICE_VENDOR_ID":
		if n, err := strconv.ParseUint(value, 0, 16); err == nil {
			cfg.VendorID = uint16(n)
		}
	case "DEVICE_PRODUCT_ID":
		if n, err := strconv.ParseUint(value, 0, 16); err == nil {
			cfg.ProductID = uint16(n)
		}
	case "DEVICE_READ_TIMEOUT_SECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.ReadTimeoutSeconds = n
		}
	case "DEVICE_HANDSHAKE_TIMEOUT_SECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.HandshakeTimeoutSeconds = n
		}
	}
}

// findProjectRoot resolves the directory Load should read .env from: the
// working directory itself if it already has a .env, otherwise the
// nearest ancestor carrying a go.mod, otherwise the working directory
// unchanged.
func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if hasFile(cwd, ".env") {
		return cwd
	}
	return ascendToGoMod(cwd)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func ascendToGoMod(dir string) string {
	for dir != "" {
		if hasFile(dir, "go.mod") {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return dir
}

// ApplyFlags overlays flag-supplied values, which take precedence over
// both the environment and .env. Zero values are treated as "not set" and
// left alone.
func (c *SessionConfig) ApplyFlags(firmwarePath, osImagePath string, osImageIndex int, vendorID, productID uint16) {
	if firmwarePath != "" {
		c.FirmwarePath = firmwarePath
	}
	if osImagePath != "" {
		c.OsImagePath = osImagePath
	}
	if osImageIndex != 0 {
		c.OsImageIndex = osImageIndex
	}
	if vendorID != 0 {
		c.VendorID = vendorID
	}
	if productID != 0 {
		c.ProductID = productID
	}
}
