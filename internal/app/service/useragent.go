package service

import "strings"

// NormalizeUserAgent reduces a raw User-Agent header to "OS / Browser",
// each side defaulting to "Unknown". Events store this normalized form,
// never the raw header.
func NormalizeUserAgent(raw string) string {
	return detectOS(raw) + " / " + detectBrowser(raw)
}

func detectOS(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

// detectBrowser matches in dependency order: Chrome-family agents also
// advertise Safari, and Edge/Opera also advertise Chrome.
func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		return "Edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	case strings.Contains(ua, "curl/"):
		return "curl"
	default:
		return "Unknown"
	}
}
