package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/storage"
)

type stubSource struct {
	receipts    []*entity.Receipt
	corrections []*entity.Correction
	models      []*entity.ModelVersion
	receiptErr  error
	lastFilter  entity.ReceiptFilter
}

func (s *stubSource) List(_ context.Context, f entity.ReceiptFilter) ([]*entity.Receipt, error) {
	s.lastFilter = f
	return s.receipts, s.receiptErr
}

type correctionSource struct{ items []*entity.Correction }

func (c correctionSource) List(context.Context, int, int) ([]*entity.Correction, error) {
	return c.items, nil
}

type modelSource struct{ items []*entity.ModelVersion }

func (m modelSource) List(context.Context) ([]*entity.ModelVersion, error) { return m.items, nil }

func newService(t *testing.T, src *stubSource, keep int) (*Service, storage.BlobStore) {
	t.Helper()
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return NewService(src, correctionSource{src.corrections}, modelSource{src.models}, blobs, keep, nil), blobs
}

func TestRunWritesSnapshot(t *testing.T) {
	merchant := "Circle K"
	total := 25000.0
	src := &stubSource{
		receipts: []*entity.Receipt{{
			ID: "r1", MerchantName: &merchant, TotalAmount: &total,
			Category: constants.Food, Items: []string{"banh mi"},
		}},
		corrections: []*entity.Correction{{
			ID: "c1", ReceiptID: "r1",
			OriginalCategory: constants.Food, CorrectedCategory: constants.Household,
		}},
		models: []*entity.ModelVersion{{VersionID: "category_clf_v20250301_100000", Active: true}},
	}
	svc, blobs := newService(t, src, 0)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	key, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backups/backup_20250301_100000.json", key)
	assert.Equal(t, -1, src.lastFilter.Limit)

	keys, err := blobs.List(context.Background(), storage.PrefixBackups)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	snap, err := svc.Load(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, at.Equal(snap.BackupTime))
	require.Len(t, snap.Receipts, 1)
	assert.Equal(t, "Circle K", snap.Receipts[0].Merchant())
	require.Len(t, snap.Corrections, 1)
	assert.Equal(t, constants.Household, snap.Corrections[0].CorrectedCategory)
	require.Len(t, snap.ModelVersions, 1)
	assert.True(t, snap.ModelVersions[0].Active)
}

func TestRunPrunesOldSnapshots(t *testing.T) {
	svc, blobs := newService(t, &stubSource{}, 2)
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, storage.PrefixBackups+"notes.txt", []byte("keep me"), "text/plain"))

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := at.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return ts }
		_, err := svc.Run(ctx)
		require.NoError(t, err)
	}

	keys, err := blobs.List(ctx, storage.PrefixBackups)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"backups/backup_20250301_020000.json",
		"backups/backup_20250301_030000.json",
		"backups/notes.txt",
	}, keys)
}

func TestRunStopsOnSourceError(t *testing.T) {
	svc, blobs := newService(t, &stubSource{receiptErr: errors.New("db down")}, 0)
	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	keys, err := blobs.List(context.Background(), storage.PrefixBackups)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
