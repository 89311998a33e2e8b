// Package protocol owns the DLT wire contract shared by every engine layer.
//
// Ownership boundary:
// - log levels, message kinds and type-info values
// - control service ids and response status codes
// - codec (cursor based integer/id primitives)
// - frame (standard/extended header encode and decode)
package protocol
