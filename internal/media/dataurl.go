// Package media decodes the binary payloads carried by moodboard elements
// and turns videos into key-frame images.
package media

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

var dataURLHeader = regexp.MustCompile(`^data:([\w.+-]+/[\w.+-]+)(;[^,]*)?;base64$`)

// DecodeDataURL splits a base64 data URL into its bytes and MIME type.
func DecodeDataURL(s string) ([]byte, string, error) {
	header, encoded, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return nil, "", fmt.Errorf("media: invalid data URL")
	}
	m := dataURLHeader.FindStringSubmatch(header)
	if m == nil {
		return nil, "", fmt.Errorf("media: unsupported data URL header %q", truncate(header, 64))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some encoders drop the padding.
		if raw, rerr := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "=")); rerr == nil {
			return raw, strings.ToLower(m[1]), nil
		}
		return nil, "", fmt.Errorf("media: decode base64: %w", err)
	}
	return data, strings.ToLower(m[1]), nil
}

// ExtFor returns a file extension for a MIME type, or fallback.
func ExtFor(mime, fallback string) string {
	switch mime {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/ogg":
		return ".ogg"
	case "video/quicktime":
		return ".mov"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "model/gltf-binary":
		return ".glb"
	case "model/gltf+json":
		return ".gltf"
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
