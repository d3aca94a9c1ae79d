package enricher

import (
	"net"
	"net/http"

	"github.com/mssola/useragent"
)

// ClientInfo describes the dashboard client that issued a control request.
type ClientInfo struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	DeviceType     string `json:"device_type"`
	ClientIP       string `json:"client_ip,omitempty"`
}

// Enrich parses a User-Agent string.
func Enrich(userAgentString, clientIP string) ClientInfo {
	info := ClientInfo{ClientIP: clientIP}

	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		info.Browser, info.BrowserVersion = ua.Browser()
		info.OS = ua.OS()
		info.DeviceType = getDeviceType(ua)
	}

	return info
}

// FromRequest enriches from the request's User-Agent and client address.
// RemoteAddr is expected to have been rewritten by chi's RealIP middleware.
func FromRequest(r *http.Request) ClientInfo {
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}
	return Enrich(r.Header.Get("User-Agent"), clientIP)
}

// Details returns the info as alert details.
func (c ClientInfo) Details() map[string]any {
	d := map[string]any{
		"browser":         c.Browser,
		"browser_version": c.BrowserVersion,
		"os":              c.OS,
		"device_type":     c.DeviceType,
	}
	if c.ClientIP != "" {
		d["client_ip"] = c.ClientIP
	}
	return d
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}
