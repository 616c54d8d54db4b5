package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo is the parsed User-Agent of the browser that opened a
// booking screen.  It is only used for logs.
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, unknown
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent never fails; unknown parts are reported as "unknown".
func ParseUserAgent(s string) DeviceInfo {
	if strings.TrimSpace(s) == "" {
		return DeviceInfo{DeviceType: "unknown", OS: "unknown", Browser: "unknown"}
	}
	p := ua.New(s)
	name, version := p.Browser()
	info := DeviceInfo{
		DeviceType: "desktop",
		OS:         p.OS(),
		Browser:    name,
		BrowserVer: version,
		IsBot:      p.Bot(),
	}
	if p.Mobile() {
		info.DeviceType = "mobile"
		if lower := strings.ToLower(s); strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
			info.DeviceType = "tablet"
		}
	}
	if info.OS == "" {
		info.OS = "unknown"
	}
	if info.Browser == "" {
		info.Browser = "unknown"
	}
	return info
}

// String is a short label such as "Firefox 121.0 on Linux x86_64 (desktop)".
func (d DeviceInfo) String() string {
	b := d.Browser
	if d.BrowserVer != "" {
		b += " " + d.BrowserVer
	}
	return b + " on " + d.OS + " (" + d.DeviceType + ")"
}
