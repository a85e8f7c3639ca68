package message

import (
	"encoding/json"
	"fmt"
)

// ContentType tags the payload variant inside an envelope. Dispatch on
// receive is an exhaustive switch over these values.
type ContentType string

const (
	ContentText          ContentType = "text"
	ContentName          ContentType = "name"
	ContentImage         ContentType = "image"
	ContentVideo         ContentType = "video"
	ContentFile          ContentType = "file"
	ContentDisplayImage  ContentType = "displayImage"
	ContentContactBundle ContentType = "contactBundle"
	ContentHandshakeA1   ContentType = "handshakeA1"
	ContentHandshakeB2   ContentType = "handshakeB2"
)

// Known reports whether the tag is a variant this client understands.
// Unknown tags from newer peers are persisted but not dispatched.
func (c ContentType) Known() bool {
	switch c {
	case ContentText, ContentName, ContentImage, ContentVideo, ContentFile,
		ContentDisplayImage, ContentContactBundle, ContentHandshakeA1, ContentHandshakeB2:
		return true
	}
	return false
}

// Media reports whether the payload carries an out-of-band blob that is
// uploaded before sending and downloaded after receiving.
func (c ContentType) Media() bool {
	switch c {
	case ContentImage, ContentVideo, ContentFile, ContentDisplayImage:
		return true
	}
	return false
}

// Handshake reports whether the payload is a key-exchange step. These
// travel as plaintext envelopes: no shared secret exists yet.
func (c ContentType) Handshake() bool {
	return c == ContentHandshakeA1 || c == ContentHandshakeB2
}

// Surfaceable reports whether an inbound payload of this type appears in
// the chat feed and may raise a notification.
func (c ContentType) Surfaceable() bool {
	switch c {
	case ContentText, ContentImage, ContentVideo, ContentFile, ContentContactBundle:
		return true
	}
	return false
}

// Envelope is the unit of transmission: serialized to JSON, then
// encrypted with the chat's shared secret for authenticated chats.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	ContentType ContentType     `json:"contentType"`
	Data        json.RawMessage `json:"data"`
	ReplyID     string          `json:"replyId,omitempty"`
}

// TextData is an ordinary chat message.
type TextData struct {
	Text string `json:"text"`
}

// NameData announces the sender's display name. Applied to the
// connection only when it has no name yet.
type NameData struct {
	Name string `json:"name"`
}

// MediaData describes an out-of-band blob. Before sending, MediaID and
// Key reference the uploaded ciphertext; after a successful
// auto-download they are cleared and FilePath points at local storage.
type MediaData struct {
	MediaID  string `json:"mediaId,omitempty"`
	Key      string `json:"key,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

// ContactBundleData relays a third party's connection bundle through an
// existing chat.
type ContactBundleData struct {
	Bundle string `json:"bundle"`
	Text   string `json:"text,omitempty"`
}

// HandshakeA1Data is the initiator's public key disclosure.
type HandshakeA1Data struct {
	PubKey string `json:"pubKey"`
}

// HandshakeB2Data is the responder's public key plus the bundle nonce
// encrypted under the derived shared secret, proving key possession.
type HandshakeB2Data struct {
	PubKey         string `json:"pubKey"`
	EncryptedNonce string `json:"encryptedNonce"`
}

// NewEnvelope builds an envelope around a typed payload.
func NewEnvelope(messageID string, contentType ContentType, data any, replyID string) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", contentType, err)
	}
	return &Envelope{
		MessageID:   messageID,
		ContentType: contentType,
		Data:        raw,
		ReplyID:     replyID,
	}, nil
}

// Preview renders the one-line feed preview for a payload.
func Preview(contentType ContentType, data json.RawMessage) string {
	switch contentType {
	case ContentText:
		var d TextData
		if json.Unmarshal(data, &d) == nil {
			return d.Text
		}
	case ContentImage:
		return "Photo"
	case ContentVideo:
		return "Video"
	case ContentFile:
		var d MediaData
		if json.Unmarshal(data, &d) == nil && d.FileName != "" {
			return d.FileName
		}
		return "File"
	case ContentContactBundle:
		return "Shared a contact"
	}
	return ""
}
