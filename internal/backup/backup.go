// Package backup writes JSON snapshots of the receipt store to the blob store.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/storage"
)

const (
	DefaultKeep = 14
	keyLayout   = "20060102_150405"
)

type ReceiptLister interface {
	List(ctx context.Context, f entity.ReceiptFilter) ([]*entity.Receipt, error)
}

type CorrectionLister interface {
	List(ctx context.Context, limit, offset int) ([]*entity.Correction, error)
}

type ModelLister interface {
	List(ctx context.Context) ([]*entity.ModelVersion, error)
}

// Snapshot is the document written for each backup.
type Snapshot struct {
	BackupTime    time.Time              `json:"backup_time"`
	Receipts      []*entity.Receipt      `json:"receipts"`
	Corrections   []*entity.Correction   `json:"corrections"`
	ModelVersions []*entity.ModelVersion `json:"model_versions"`
}

type Service struct {
	receipts    ReceiptLister
	corrections CorrectionLister
	models      ModelLister
	blobs       storage.BlobStore
	keep        int
	now         func() time.Time
	logger      *slog.Logger
}

// NewService keeps the newest keep snapshots; keep <= 0 means DefaultKeep.
func NewService(receipts ReceiptLister, corrections CorrectionLister, models ModelLister, blobs storage.BlobStore, keep int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Service{
		receipts:    receipts,
		corrections: corrections,
		models:      models,
		blobs:       blobs,
		keep:        keep,
		now:         time.Now,
		logger:      logger,
	}
}

func Key(t time.Time) string {
	return storage.PrefixBackups + "backup_" + t.UTC().Format(keyLayout) + ".json"
}

// Run writes a snapshot and prunes old ones. It returns the snapshot key.
func (s *Service) Run(ctx context.Context) (string, error) {
	snap := Snapshot{BackupTime: s.now().UTC()}
	var err error
	if snap.Receipts, err = s.receipts.List(ctx, entity.ReceiptFilter{Limit: -1}); err != nil {
		return "", fmt.Errorf("backup receipts: %w", err)
	}
	if snap.Corrections, err = s.corrections.List(ctx, -1, 0); err != nil {
		return "", fmt.Errorf("backup corrections: %w", err)
	}
	if snap.ModelVersions, err = s.models.List(ctx); err != nil {
		return "", fmt.Errorf("backup model versions: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	key := Key(snap.BackupTime)
	if err := s.blobs.Put(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("store backup: %w", err)
	}
	s.logger.Info("backup.written",
		"key", key,
		"receipts", len(snap.Receipts),
		"corrections", len(snap.Corrections),
		"model_versions", len(snap.ModelVersions),
		"bytes", len(data))

	if err := s.prune(ctx); err != nil {
		s.logger.Warn("backup.prune.failed", "error", err)
	}
	return key, nil
}

// prune deletes all but the newest snapshots. Keys sort by time.
func (s *Service) prune(ctx context.Context) error {
	keys, err := s.blobs.List(ctx, storage.PrefixBackups)
	if err != nil {
		return err
	}
	var snaps []string
	for _, k := range keys {
		if strings.HasPrefix(k, storage.PrefixBackups+"backup_") && strings.HasSuffix(k, ".json") {
			snaps = append(snaps, k)
		}
	}
	if len(snaps) <= s.keep {
		return nil
	}
	sort.Strings(snaps)
	for _, k := range snaps[:len(snaps)-s.keep] {
		if err := s.blobs.Delete(ctx, k); err != nil {
			return err
		}
		s.logger.Debug("backup.pruned", "key", k)
	}
	return nil
}

// Load reads a snapshot back, e.g. for inspection or restore tooling.
func (s *Service) Load(ctx context.Context, key string) (Snapshot, error) {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode backup %s: %w", key, err)
	}
	return snap, nil
}
