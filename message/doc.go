// Package message implements the send and receive pipeline: typed
// content payloads in a JSON envelope, media upload and download, the
// offline journal, and idempotent inbound persistence.
package message
