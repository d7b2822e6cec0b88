package models

import "encoding/json"

// ProcessRequest is the body of POST /api/aisr-process.
type ProcessRequest struct {
	Image       string `json:"image"`
	Filename    string `json:"filename,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
	InputFormat string `json:"input_format,omitempty"`
}

// Envelope is returned for every processing request. Error responses carry only
// Message; success responses always carry Image and MIMEType.
type Envelope struct {
	Error              bool            `json:"error"`
	Message            string          `json:"message,omitempty"`
	Image              string          `json:"image,omitempty"`
	MIMEType           string          `json:"mimeType,omitempty"`
	Size               int64           `json:"size,omitempty"`
	OriginalSize       int64           `json:"originalSize,omitempty"`
	EnhancementRatio   float64         `json:"enhancementRatio,omitempty"`
	OriginalResolution json.RawMessage `json:"originalResolution,omitempty"`
	OutputResolution   json.RawMessage `json:"outputResolution,omitempty"`
	ResultURL          string          `json:"resultUrl,omitempty"`
}

func ErrorEnvelope(message string) Envelope {
	return Envelope{Error: true, Message: message}
}

// ConvertRequest is the body of POST /api/convert-tiff.
type ConvertRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type ConvertResponse struct {
	Error       bool   `json:"error"`
	Message     string `json:"message,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Format      string `json:"format,omitempty"`
}
