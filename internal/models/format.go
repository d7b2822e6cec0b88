package models

import "strings"

// Format is one of the image encodings the gateway accepts.
type Format string

const (
	FormatJPEG Format = "JPEG"
	FormatPNG  Format = "PNG"
	FormatTIFF Format = "TIFF"
	FormatBMP  Format = "BMP"
)

var mimeTypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatTIFF: "image/tiff",
	FormatBMP:  "image/bmp",
}

// SupportedFormats is the allow-list in display order.
var SupportedFormats = []Format{FormatJPEG, FormatPNG, FormatTIFF, FormatBMP}

// MIMEType returns the content type for f, defaulting to PNG.
func (f Format) MIMEType() string {
	if mt, ok := mimeTypes[f]; ok {
		return mt
	}
	return mimeTypes[FormatPNG]
}

func (f Format) Supported() bool {
	_, ok := mimeTypes[f]
	return ok
}

// Extension returns the lower-case file extension without a dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return strings.ToLower(string(f))
}

// ParseFormat maps image package names ("jpeg", "png", ...) and user-supplied
// labels ("JPG", "tif") to a Format. Unknown names are upper-cased verbatim.
func ParseFormat(name string) Format {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "JPEG", "JPG":
		return FormatJPEG
	case "PNG":
		return FormatPNG
	case "TIFF", "TIF":
		return FormatTIFF
	case "BMP":
		return FormatBMP
	default:
		return Format(strings.ToUpper(strings.TrimSpace(name)))
	}
}
