package utils

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var supportedMIMETypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/tiff",
	"image/bmp",
}

// IsSupportedImageType reports whether a client-declared content type is one
// the enhancement service accepts.
func IsSupportedImageType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, validType := range supportedMIMETypes {
		if strings.Contains(ct, validType) {
			return true
		}
	}
	return false
}

// EnhancedFilename derives the download name for a result, e.g.
// "photo.tif" + ".tiff" -> "photo_enhanced.tiff".
func EnhancedFilename(original, ext string) string {
	base := filepath.Base(original)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	return fmt.Sprintf("%s_enhanced%s", name, ext)
}

func GenerateStorageKey(day, filename string) string {
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)
	timestamp := time.Now().Unix()
	uuid := uuid.New().String()[:8]

	return fmt.Sprintf("processed/%s/%s_%d_%s%s", day, name, timestamp, uuid, ext)
}
