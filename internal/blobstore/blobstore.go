// Package blobstore keeps uploaded images.
package blobstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Store writes image bytes under a generated name and returns a reference
// that can be persisted alongside the analysis.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

const maxBaseLen = 64

// GenerateName builds a collision resistant file name from the upload time
// and a sanitised version of the client supplied name.
func GenerateName(now time.Time, original string) string {
	now = now.UTC()
	return fmt.Sprintf("%s_%09d_%s", now.Format("20060102_150405"), now.Nanosecond(), SanitizeName(original))
}

// SanitizeName strips directories and every character outside [A-Za-z0-9._-],
// drops leading dots and truncates the result. It never returns an empty string.
func SanitizeName(name string) string {
	return sanitize(name, maxBaseLen)
}

// sanitize is SanitizeName with a configurable length cap; limit <= 0 keeps
// the full length.
func sanitize(name string, limit int) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.ToSlash(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if limit > 0 && len(out) > limit {
		ext := filepath.Ext(out)
		if len(ext) > 10 {
			ext = ""
		}
		out = out[:limit-len(ext)] + ext
	}
	if strings.Trim(out, "_") == "" {
		return "upload"
	}
	return out
}
