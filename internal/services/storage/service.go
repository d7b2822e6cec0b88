// Package storage archives enhanced results to Supabase Storage so a caller
// can fetch them again by URL after the response is gone.
package storage

import (
	"github.com/cityshield/YuntuWeb/internal/config"
	storage_go "github.com/supabase-community/storage-go"
	"go.uber.org/zap"
)

type StorageService struct {
	sbClient *storage_go.Client
	bucket   string
	logger   *zap.Logger
}

// NewStorageService returns nil when Supabase is not configured; callers treat
// a nil archive as disabled.
func NewStorageService(cfg config.SupabaseConfig, logger *zap.Logger) *StorageService {
	if cfg.URL == "" || cfg.BUCKET == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sbClient := storage_go.NewClient(cfg.URL+"/storage/v1", cfg.KEY, nil)

	return &StorageService{
		sbClient: sbClient,
		bucket:   cfg.BUCKET,
		logger:   logger,
	}
}
