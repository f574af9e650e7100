package lecture

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// thumbnail sizes
const (
	ThumbnailDefault = "default"
	ThumbnailMaxRes  = "maxresdefault"
)

var mediaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,32}$`)

// ExtractMediaRef returns the video id of a watch, short or embed url, empty
// when the url carries none
func ExtractMediaRef(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/embed/"):
		id = strings.TrimPrefix(u.Path, "/embed/")
	default:
		id = u.Query().Get("v")
	}
	if !mediaIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// EmbedURL autoplaying player source for ref
func EmbedURL(ref string) (string, error) {
	if !mediaIDPattern.MatchString(ref) {
		return "", fmt.Errorf("invalid media reference %q", ref)
	}
	return fmt.Sprintf("https://www.youtube.com/embed/%s?autoplay=1&modestbranding=1&rel=0", ref), nil
}

// ThumbnailURL still image for ref
func ThumbnailURL(ref, size string) string {
	if ref == "" {
		return ""
	}
	if size == "" {
		size = ThumbnailDefault
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/%s.jpg", ref, size)
}
