package fetch

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
)

// smallPage bounds the body size at which challenge markers are trusted.
// Real pages often embed a captcha widget on a contact form.
const smallPage = 16 * 1024

// DetectBlock checks a response for signs of an anti-bot interstitial.
func DetectBlock(status int, header http.Header, body []byte) (bool, BlockType) {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		if header.Get("cf-ray") != "" || header.Get("cf-mitigated") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	if len(body) > smallPage && status < 400 {
		return false, BlockNone
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") ||
		(strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge")) {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "captcha") &&
		(strings.Contains(lower, "verify you are human") ||
			strings.Contains(lower, "are you a robot") ||
			strings.Contains(lower, "unusual traffic") ||
			status >= 400) {
		return true, BlockCaptcha
	}

	return false, BlockNone
}
