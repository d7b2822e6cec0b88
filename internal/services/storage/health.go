package storage

import (
	"context"

	storage_go "github.com/supabase-community/storage-go"
	"go.uber.org/zap"
)

func (s *StorageService) HealthCheck(ctx context.Context) string {
	_, err := s.sbClient.ListFiles(s.bucket, "", storage_go.FileSearchOptions{})
	if err != nil {
		s.logger.Warn("Supabase storage health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
