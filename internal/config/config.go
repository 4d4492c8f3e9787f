// Package config loads the daemon's optional TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config carries the settings cmd/boardsync can read from a file. Flags and
// environment variables override any value set here.
type Config struct {
	BoardID      string
	UserID       string
	TransportDSN string
	PersistDSN   string
	QueueDSN     string
	StatusBind   string
	StatusToken  string
	LogLevel     string
}

// BoardID and UserID carry no defaults; the daemon rejects an empty board
// or user id at startup.
const (
	defaultConfigPath   = "~/.config/boardsync/config.toml"
	DefaultTransportDSN = "memory://"
	DefaultPersistDSN   = "memory://"
	DefaultQueueDSN     = "bolt://~/.local/share/boardsync/queue.db"
	DefaultStatusBind   = "127.0.0.1:7341"
	DefaultLogLevel     = "info"
)

// Load parses the TOML file at path, or at ~/.config/boardsync/config.toml
// when path is empty. A missing file is not an error; every omitted field
// falls back to its default.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		TransportDSN: DefaultTransportDSN,
		PersistDSN:   DefaultPersistDSN,
		QueueDSN:     expandDSN(DefaultQueueDSN),
		StatusBind:   DefaultStatusBind,
		LogLevel:     DefaultLogLevel,
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var parsed struct {
		BoardID      string `toml:"board_id"`
		UserID       string `toml:"user_id"`
		TransportDSN string `toml:"transport_dsn"`
		PersistDSN   string `toml:"persist_dsn"`
		QueueDSN     string `toml:"queue_dsn"`
		StatusBind   string `toml:"status_bind"`
		StatusToken  string `toml:"status_token"`
		LogLevel     string `toml:"log_level"`
	}
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.BoardID = strings.TrimSpace(parsed.BoardID)
	cfg.UserID = strings.TrimSpace(parsed.UserID)
	if dsn := strings.TrimSpace(parsed.TransportDSN); dsn != "" {
		cfg.TransportDSN = dsn
	}
	if dsn := strings.TrimSpace(parsed.PersistDSN); dsn != "" {
		cfg.PersistDSN = dsn
	}
	if dsn := strings.TrimSpace(parsed.QueueDSN); dsn != "" {
		cfg.QueueDSN = expandDSN(dsn)
	}
	if bind := strings.TrimSpace(parsed.StatusBind); bind != "" {
		cfg.StatusBind = bind
	}
	cfg.StatusToken = strings.TrimSpace(parsed.StatusToken)
	if level := strings.TrimSpace(parsed.LogLevel); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	return cfg, nil
}

// expandDSN resolves a leading ~ in the path part of bolt:// and file://
// queue DSNs, and in bare paths. Network DSNs pass through untouched.
func expandDSN(dsn string) string {
	for _, scheme := range []string{"bolt://", "file://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return scheme + mustExpand(rest)
		}
	}
	if strings.HasPrefix(dsn, "~") {
		return mustExpand(dsn)
	}
	return dsn
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
