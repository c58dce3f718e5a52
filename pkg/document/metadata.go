package document

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileMetadata builds the metadata map attached to every record extracted
// from path. page_count stays 0 for the formats handled here, none of
// which are paginated.
func FileMetadata(path string) map[string]any {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return map[string]any{
		"filename":   filepath.Base(path),
		"filetype":   filepath.Ext(path),
		"filesize":   size,
		"page_count": 0,
		"file_path":  path,
	}
}

// MakeUnique disambiguates repeated column names while flattening
// structured content. The first occurrence keeps its name, repeats get a
// numeric suffix. counts carries the state across calls.
func MakeUnique(name string, counts map[string]int) string {
	n, ok := counts[name]
	if !ok {
		counts[name] = 0
		return name
	}
	counts[name] = n + 1
	return fmt.Sprintf("%s_%d", name, n+1)
}

// DecodeSafelinkURL recovers the destination hidden in a safelink-style
// redirect, where the real target rides in a url= query parameter next to
// tracking parameters. Links without a query, with a single parameter, or
// with a malformed parameter are left alone.
func DecodeSafelinkURL(link string) (string, bool) {
	_, query, ok := strings.Cut(link, "?")
	if !ok || query == "" {
		return "", false
	}
	params := strings.Split(query, "&")
	if len(params) < 2 {
		return "", false
	}
	for _, param := range params {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			return "", false
		}
		if key != "url" {
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return "", false
		}
		return decoded, true
	}
	return "", false
}
