package models

import "encoding/json"

// ImagePayload is a validated inbound image. It lives for one request only.
type ImagePayload struct {
	Data           []byte
	Format         Format
	DeclaredMIME   string
	DeclaredFormat string
	Filename       string
	Width          int
	Height         int
}

func (p ImagePayload) Size() int64 {
	return int64(len(p.Data))
}

// ProcessingResult is what an upstream client hands back to the gateway.
type ProcessingResult struct {
	Image              []byte          `json:"image"`
	Format             Format          `json:"format"`
	MIMEType           string          `json:"mime_type"`
	InputSize          int64           `json:"input_size"`
	OutputSize         int64           `json:"output_size"`
	ScaleFactor        float64         `json:"scale_factor"`
	OriginalResolution json.RawMessage `json:"original_resolution,omitempty"`
	OutputResolution   json.RawMessage `json:"output_resolution,omitempty"`
}
