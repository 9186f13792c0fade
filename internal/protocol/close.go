// ABOUTME: WebSocket close code classification for the chat transport
// ABOUTME: Separates expected closures from failures that must be reported

package protocol

// Close codes from RFC 6455 that the client treats specially.
const (
	CloseNormal   = 1000
	CloseNoStatus = 1005
	CloseAbnormal = 1006
)

// IsExpectedClose reports whether a close code is a normal shutdown that
// should not be surfaced to the user as a failure.
func IsExpectedClose(code int) bool {
	return code == CloseNormal || code == CloseNoStatus
}
