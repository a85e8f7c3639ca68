// Package handshake drives chat authentication: the four-message
// direct-chat protocol that binds an ECDH exchange to the commitments
// carried by an out-of-band bundle, and the one-shot group join.
package handshake
