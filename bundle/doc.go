// Package bundle builds and parses the connection bundles exchanged
// out-of-band (QR code or link) to seed a handshake, and manages the
// pool of server-issued single-use link ids they consume.
//
// A generated bundle's local side (key pair, commitment values, label)
// is persisted until a peer consumes the link or the bundle expires.
// Expired bundles are purged lazily whenever the store is read and are
// indistinguishable from absent ones.
package bundle
