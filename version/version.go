// Package version provides default versions, user-agents etc. for client identification.
package version

var (
	DefaultExtendedHandshakeClientVersion string
	// This should be updated when client behaviour changes in a way that other peers could care
	// about.
	DefaultBep20Prefix   = "-TC0001-"
	DefaultHttpUserAgent string
)

func init() {
	DefaultExtendedHandshakeClientVersion = "torrentcore 0.0.1"
	// Per https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/User-Agent#library_and_net_tool_ua_strings
	DefaultHttpUserAgent = "torrentcore/0.0.1"
}
