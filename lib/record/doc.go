// Package record implements the DarkStar record layer.
//
// Every application message becomes one frame:
//
//	encrypted length (2) || tag (16) || encrypted payload (<= 16417) || tag (16)
//
// Length and payload are sealed separately with AES-256-GCM, so each frame
// consumes two nonces from the sending direction's counter. Nonces are a fixed
// 4-byte field followed by the 8-byte big-endian counter.
//
// A Cipher holds one key and one counter per direction. The encrypt side and
// the decrypt side may be used from two different goroutines, but each side
// must only be driven by one goroutine at a time.
package record
