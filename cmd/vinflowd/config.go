package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vinflow-backend/services/alerts"

	_ "modernc.org/sqlite"
)

type QrConfig struct {
	TimeoutSeconds    int      `json:"timeout_seconds"`
	RetryCount        int      `json:"retry_count"`
	Concurrency       int      `json:"concurrency"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	SoldMarkers       []string `json:"sold_markers"`
}

type DaemonConfig struct {
	Port          int                `json:"port"`
	DataDir       string             `json:"data_dir"`
	DealersConfig string             `json:"dealers_config"`
	ArtifactDir   string             `json:"artifact_dir"`
	BackupDir     string             `json:"backup_dir"`
	Qr            QrConfig           `json:"qr"`
	Smtp          *alerts.SmtpConfig `json:"smtp"`
}

func (c DaemonConfig) withDefaults() DaemonConfig {
	out := c
	if out.Port == 0 {
		out.Port = 8140
	}
	if out.DataDir == "" {
		out.DataDir = "data"
	}
	if out.DealersConfig == "" {
		out.DealersConfig = "dealers.json5"
	}
	if out.ArtifactDir == "" {
		out.ArtifactDir = filepath.Join(out.DataDir, "artifacts")
	}
	if out.BackupDir == "" {
		out.BackupDir = filepath.Join(out.DataDir, "backups")
	}
	return out
}

// openStore opens (creating if needed) one sqlite store under the data
// directory and applies its schema.
func openStore(dataDir, name, schema string) (*sql.DB, error) {
	err := os.MkdirAll(dataDir, 0o755)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, name+".db")
	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	_, err = sqlite.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return nil, fmt.Errorf("apply schema for %s: %w", name, err)
	}
	return sqlite, nil
}
