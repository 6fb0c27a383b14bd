package workflow

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Upload 一次上传
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// allowedMIME 允许的实际内容类型，与扩展名无关
var allowedMIME = []string{"image/png", "image/jpeg"}

// validate 检查大小、扩展名和实际内容类型，返回规范化的扩展名与 MIME
func (o *Orchestrator) validate(up Upload) (ext string, mime string, f *Failure) {
	size := up.Size
	if size == 0 {
		size = int64(len(up.Data))
	}
	if size <= 0 || len(up.Data) == 0 {
		return "", "", validationFailure("The uploaded file is empty", nil)
	}
	if size > o.cfg.MaxFileSize || int64(len(up.Data)) > o.cfg.MaxFileSize {
		return "", "", validationFailure(
			fmt.Sprintf("File exceeds the maximum size of %d MB", o.cfg.MaxFileSize/(1024*1024)),
			map[string]any{"max_size_bytes": o.cfg.MaxFileSize})
	}

	ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(up.Filename), "."))
	if !slices.Contains(o.cfg.AllowedExtensions, ext) {
		return "", "", validationFailure(
			fmt.Sprintf("File type '%s' is not supported", ext),
			map[string]any{"allowed_types": o.cfg.AllowedExtensions})
	}

	detected := mimetype.Detect(up.Data)
	for _, m := range allowedMIME {
		if detected.Is(m) {
			return ext, m, nil
		}
	}
	return "", "", validationFailure(
		"File content is not a valid image",
		map[string]any{"detected_type": detected.String(), "allowed_types": allowedMIME})
}
