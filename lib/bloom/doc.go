// Package bloom provides the server's replay guard: a fixed-size Bloom filter
// over client ephemeral public keys, persisted as JSON after every insert.
//
// The filter never evicts. Once every bit is set it reports every key as
// seen, so a long-lived server eventually refuses all clients until the
// filter file is rotated out of band. Saturation exposes how close that is.
package bloom
