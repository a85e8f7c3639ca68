package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// Org is the organization tag every bundle must carry.
	Org = "numberless.tech"
	// Version is the bundle format version this client produces.
	Version = "1.0.0"
	// ValidityWindow is how long a bundle stays usable after
	// generation. Expired bundles are treated as absent.
	ValidityWindow = 14 * 24 * time.Hour
)

// ErrFormat indicates a payload that is not a recognizable bundle.
// Terminal: a malformed bundle is never retried.
var ErrFormat = errors.New("bundle format error")

// ConnectionType discriminates the bundle variants.
type ConnectionType string

const (
	TypeDirect    ConnectionType = "direct"
	TypeGroup     ConnectionType = "group"
	TypeSuperport ConnectionType = "superport"
)

// Data is the variant-specific payload of a bundle.
type Data struct {
	LinkID      string `json:"linkId"`
	Nonce       string `json:"nonce,omitempty"`
	PubkeyHash  string `json:"pubkeyHash,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Bundle is the self-describing payload transferred out-of-band to seed
// a connection. Immutable once generated.
type Bundle struct {
	Org            string         `json:"org"`
	Timestamp      string         `json:"timestamp"`
	ConnectionType ConnectionType `json:"connectionType"`
	Version        string         `json:"version"`
	Data           Data           `json:"data"`
}

// Serialize renders the bundle as the JSON carried in a QR code.
func (b *Bundle) Serialize() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Expired reports whether the bundle's validity window has passed.
// A bundle with an unparseable timestamp is treated as expired.
func (b *Bundle) Expired(now time.Time) bool {
	return timestampExpired(b.Timestamp, now)
}

func timestampExpired(timestamp string, now time.Time) bool {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return true
	}
	return now.Sub(ts) > ValidityWindow
}

// Parse validates a raw out-of-band payload and returns the bundle.
// The organization tag must match, the connection type must be a known
// variant, and the data section must name a link id; anything else is
// ErrFormat.
func Parse(raw string) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if b.Org != Org {
		return nil, fmt.Errorf("%w: unknown organization %q", ErrFormat, b.Org)
	}
	switch b.ConnectionType {
	case TypeDirect, TypeGroup, TypeSuperport:
	default:
		return nil, fmt.Errorf("%w: unknown connection type %q", ErrFormat, b.ConnectionType)
	}
	if b.Data.LinkID == "" {
		return nil, fmt.Errorf("%w: missing linkId", ErrFormat)
	}
	if b.ConnectionType == TypeDirect || b.ConnectionType == TypeSuperport {
		if b.Data.Nonce == "" || b.Data.PubkeyHash == "" {
			return nil, fmt.Errorf("%w: direct bundle missing nonce or pubkeyHash", ErrFormat)
		}
	}
	return &b, nil
}
