package app

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/gateway"
)

// mediaLoader turns a step attachment into a gateway payload.
type mediaLoader func(step *campaign.Step, caption string) (gateway.Media, error)

func loadMediaFile(step *campaign.Step, caption string) (gateway.Media, error) {
	raw, err := os.ReadFile(step.MediaPath)
	if err != nil {
		return gateway.Media{}, fmt.Errorf("failed to read media %s: %w", step.MediaPath, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(step.MediaPath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return gateway.Media{
		Type:     string(step.MediaType),
		MimeType: mimeType,
		FileName: filepath.Base(step.MediaPath),
		Base64:   base64.StdEncoding.EncodeToString(raw),
		Caption:  caption,
	}, nil
}
