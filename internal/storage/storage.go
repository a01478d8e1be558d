// Package storage archives generated performance reports as immutable
// JSON snapshots, either on the local filesystem or in S3.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"encoding/json"

	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/domain"
)

// Archive is the report snapshot store.
type Archive interface {
	SaveReport(ctx context.Context, report *domain.PerformanceReport) error
	LoadReport(ctx context.Context, id string) (*domain.PerformanceReport, error)
	ListReports(ctx context.Context) ([]string, error)
}

// New builds the archive selected by configuration.
func New(ctx context.Context, cfg appconfig.ReportsConfig) (Archive, error) {
	switch cfg.StorageType {
	case "", "local":
		return NewLocalArchive(cfg.LocalPath)
	case "s3":
		return NewS3Archive(ctx, cfg.S3Bucket, cfg.AWSRegion)
	default:
		return nil, fmt.Errorf("unknown report storage type %q", cfg.StorageType)
	}
}

// LocalArchive stores one pretty-printed JSON file per report under a
// base directory.
type LocalArchive struct {
	dir string
	mu  sync.Mutex
}

// NewLocalArchive creates the base directory if needed.
func NewLocalArchive(dir string) (*LocalArchive, error) {
	if dir == "" {
		dir = "./data/reports"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &LocalArchive{dir: dir}, nil
}

func (a *LocalArchive) SaveReport(_ context.Context, report *domain.PerformanceReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.ID, err)
	}

	// Write-then-rename so a crashed write never leaves a torn snapshot.
	path := a.path(report.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write report %s: %w", report.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize report %s: %w", report.ID, err)
	}
	return nil
}

func (a *LocalArchive) LoadReport(_ context.Context, id string) (*domain.PerformanceReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.path(id))
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", id, err)
	}
	var report domain.PerformanceReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &report, nil
}

func (a *LocalArchive) ListReports(_ context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *LocalArchive) path(id string) string {
	// Report ids are generated uuids; the Base call guards against a
	// crafted id escaping the archive directory.
	return filepath.Join(a.dir, filepath.Base(id)+".json")
}
