// Package connection manages the chat WebSocket.
//
// A Manager owns at most one current connection. Each connection attempt gets
// a new generation number and every event handed to the Listener carries it,
// so a consumer can ignore events from a connection it has already replaced
// or torn down. The Manager itself drops events from superseded connections
// before they reach the Listener.
//
// Close codes 1000 and 1005 end the connection quietly. Any other close code
// leaves the Manager in StateClosedError, and a network failure without a
// close frame is reported as an EventError followed by EventClosed with code
// 1006. The Manager never reconnects on its own.
package connection
