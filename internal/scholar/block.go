package scholar

import (
	"bytes"
	"net/http"
	"strings"
)

// challengeMarkers are body substrings that indicate a bot challenge page.
var challengeMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("unusual traffic"),
	[]byte("not a robot"),
}

// BlockSignal reports whether a response indicates automated-traffic
// detection: a challenge redirect, a challenge page body, or HTTP 403/429.
func BlockSignal(finalURL string, statusCode int, body []byte) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		return true
	}
	if strings.Contains(strings.ToLower(finalURL), "/sorry") {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
