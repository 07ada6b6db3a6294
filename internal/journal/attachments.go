package journal

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hpungsan/scribe/internal/event"
)

// imageExts maps the accepted image media types to file extensions.
// Anything else is normalized to JPEG.
var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

const fallbackMediaType = "image/jpeg"

// ExtractAttachments pulls image blocks out of a UserPromptSubmit payload.
// Base64 images are decoded and written under dir/<conversation>/ with a
// content-hash name, so the same image pasted twice is stored once. The
// returned payload has the prompt flattened to its joined text blocks.
// Payloads whose prompt is not in block form pass through untouched, and a
// block that fails to decode is skipped without failing the append.
func ExtractAttachments(dir, conversationID, eventID string, payload json.RawMessage) (json.RawMessage, []event.Attachment) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return payload, nil
	}
	blocks, ok := m["prompt"].([]any)
	if !ok {
		return payload, nil
	}

	convDir := filepath.Join(dir, conversationID)
	var (
		parts []string
		refs  []event.Attachment
	)
	for idx, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			if s, ok := b.(string); ok {
				parts = append(parts, s)
			}
			continue
		}
		switch block["type"] {
		case "text":
			if s, ok := block["text"].(string); ok {
				parts = append(parts, s)
			}
		case "image":
			if ref := saveImage(convDir, conversationID, eventID, idx, block); ref != nil {
				refs = append(refs, *ref)
			}
		}
	}

	m["prompt"] = strings.Join(parts, "\n")
	out, err := json.Marshal(m)
	if err != nil {
		return payload, refs
	}
	return out, refs
}

func saveImage(convDir, conversationID, eventID string, idx int, block map[string]any) *event.Attachment {
	source, ok := block["source"].(map[string]any)
	if !ok {
		return nil
	}
	mediaType, _ := source["media_type"].(string)
	if _, ok := imageExts[mediaType]; !ok {
		mediaType = fallbackMediaType
	}

	switch source["type"] {
	case "url":
		url, _ := source["url"].(string)
		if url == "" {
			return nil
		}
		return &event.Attachment{URL: url, MediaType: mediaType, Index: idx}

	case "base64":
		data, _ := source["data"].(string)
		if data == "" {
			return nil
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil
		}

		sum := sha256.Sum256(raw)
		name := fmt.Sprintf("%s_%s_%d%s", hex.EncodeToString(sum[:])[:12], eventID, idx, imageExts[mediaType])
		if err := os.MkdirAll(convDir, 0o700); err != nil {
			return nil
		}
		file := filepath.Join(convDir, name)
		if _, err := os.Stat(file); os.IsNotExist(err) {
			if err := os.WriteFile(file, raw, 0o644); err != nil {
				return nil
			}
		}
		return &event.Attachment{
			Path:      path.Join("attachments", conversationID, name),
			MediaType: mediaType,
			Size:      int64(len(raw)),
			Index:     idx,
		}
	}
	return nil
}
