package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/pkg/utils"
)

// Archive uploads an enhanced result under a per-day prefix and returns its
// public URL.
func (s *StorageService) Archive(ctx context.Context, record models.UsageRecord, result *models.ProcessingResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := utils.EnhancedFilename(record.Label, "."+result.Format.Extension())
	key := utils.GenerateStorageKey(record.Day, filename)

	_, err := s.sbClient.UploadFile(s.bucket, key, bytes.NewReader(result.Image))
	if err != nil {
		return "", fmt.Errorf("failed to upload to supabase: %w", err)
	}

	publicURL := s.sbClient.GetPublicUrl(s.bucket, key)
	return publicURL.SignedURL, nil
}
