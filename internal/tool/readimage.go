package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const readImageDescription = `Reads an image so it can be analyzed in the conversation.

Usage notes:
  - Accepts http:// and https:// URLs, file:// URLs, and absolute local paths
  - Remote URLs are passed to the model as-is; local files are inlined as base64 data URLs
  - Supported formats: PNG, JPEG, GIF, WebP, BMP
  - After this tool succeeds, the image is attached to the conversation so the model can see it`

// maxImageSize bounds local image files; anything larger would blow the
// request size once base64-inlined.
const maxImageSize = 20 * 1024 * 1024

// ReadImageTool fetches an image for the vision model. Remote http(s)
// URLs are returned verbatim; file:// URLs and local paths are inlined
// as data: base64 URLs.
type ReadImageTool struct {
	workDir string
}

// ReadImageInput represents the input for the read_image tool.
type ReadImageInput struct {
	ImageURL string `json:"image_url"`
}

// NewReadImageTool creates a new read_image tool.
func NewReadImageTool(workDir string) *ReadImageTool {
	return &ReadImageTool{workDir: workDir}
}

func (t *ReadImageTool) ID() string          { return "read_image" }
func (t *ReadImageTool) Description() string { return readImageDescription }

func (t *ReadImageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"image_url": {
				"type": "string",
				"description": "The image to read: an http(s) URL, a file:// URL, or an absolute local path"
			}
		},
		"required": ["image_url"]
	}`)
}

func (t *ReadImageTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadImageInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.ImageURL == "" {
		return nil, fmt.Errorf("image_url is required")
	}

	raw := strings.TrimSpace(params.ImageURL)

	// Remote images pass through untouched: the provider fetches them.
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return &Result{
			Title:  raw,
			Output: "Reading image succeeded. Please refer user's message below",
			Metadata: map[string]any{
				"image_url":   raw,
				"source_type": "url",
				"source_path": raw,
			},
		}, nil
	}

	path := raw
	if strings.HasPrefix(raw, "file://") {
		path = strings.TrimPrefix(raw, "file://")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.workDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}
	if info.Size() > maxImageSize {
		return nil, fmt.Errorf("image too large: %d bytes (limit %d)", info.Size(), maxImageSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}

	mediaType := imageMediaType(path, data)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("not an image file: %s (%s)", path, mediaType)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))

	return &Result{
		Title:  path,
		Output: "Reading image succeeded. Please refer user's message below",
		Metadata: map[string]any{
			"image_url":   dataURL,
			"source_type": "file",
			"source_path": path,
		},
		Attachments: []Attachment{{
			Filename:  filepath.Base(path),
			MediaType: mediaType,
			URL:       dataURL,
		}},
	}, nil
}

func (t *ReadImageTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// imageMediaType resolves the media type from the file extension,
// falling back to content sniffing.
func imageMediaType(path string, data []byte) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return http.DetectContentType(data)
}
