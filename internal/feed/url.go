package feed

import "strings"

// NormalizeURL collapses repeated slashes in everything after the scheme
// separator, so "http://h:1//api//camera-stream" and
// "http://h:1/api/camera-stream" name the same stream. The "://" itself is
// never touched.
func NormalizeURL(raw string) string {
	head := ""
	tail := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		head = raw[:i+len("://")]
		tail = raw[i+len("://"):]
	}
	for strings.Contains(tail, "//") {
		tail = strings.ReplaceAll(tail, "//", "/")
	}
	return head + tail
}
