package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPClient implements API against the service's JSON endpoints.
type HTTPClient struct {
	Base string
	HTTP *http.Client
}

// NewHTTP creates an API client for the given base URL.
func NewHTTP(base string) *HTTPClient {
	return &HTTPClient{
		Base: base,
		HTTP: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ API = (*HTTPClient)(nil)

func (c *HTTPClient) AllocateDirectLinks(ctx context.Context, token string) ([]string, error) {
	var out struct {
		LinkIDs []string `json:"linkIds"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/links/direct", token, nil, &out); err != nil {
		return nil, err
	}
	return out.LinkIDs, nil
}

func (c *HTTPClient) AllocateGroupLinks(ctx context.Context, token, groupID string) ([]string, error) {
	var out struct {
		LinkIDs []string `json:"linkIds"`
	}
	body := map[string]string{"groupId": groupID}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/links/group", token, body, &out); err != nil {
		return nil, err
	}
	return out.LinkIDs, nil
}

func (c *HTTPClient) CreateChatFromLink(ctx context.Context, token, linkID string) (string, error) {
	var out struct {
		ChatID string `json:"chatId"`
	}
	body := map[string]string{"linkId": linkID}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chats", token, body, &out); err != nil {
		return "", err
	}
	return out.ChatID, nil
}

func (c *HTTPClient) JoinGroupFromLink(ctx context.Context, token, linkID string) (*GroupJoin, error) {
	var out GroupJoin
	body := map[string]string{"linkId": linkID}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/groups/join", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) PostDirectMessage(ctx context.Context, token, chatID, ciphertext string) error {
	body := map[string]string{"chatId": chatID, "message": ciphertext}
	return c.doJSON(ctx, http.MethodPost, "/v1/messages/direct", token, body, nil)
}

func (c *HTTPClient) PostGroupMessage(ctx context.Context, token, groupID, ciphertext string) error {
	body := map[string]string{"groupId": groupID, "message": ciphertext}
	return c.doJSON(ctx, http.MethodPost, "/v1/messages/group", token, body, nil)
}

func (c *HTTPClient) PullBacklog(ctx context.Context, token string) ([]RawMessage, error) {
	var out struct {
		Messages []RawMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/backlog", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *HTTPClient) UploadEncryptedBlob(ctx context.Context, token string, ciphertext []byte) (*BlobRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/v1/blobs", bytes.NewReader(ciphertext))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: upload blob: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("upload blob", resp.StatusCode)
	}

	var ref BlobRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("%w: decode blob ref: %v", ErrNetwork, err)
	}
	return &ref, nil
}

func (c *HTTPClient) DownloadEncryptedBlob(ctx context.Context, token, mediaID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/v1/blobs/"+mediaID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download blob: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download blob", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// doJSON performs one JSON request/response cycle. A nil out skips
// response decoding.
func (c *HTTPClient) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "doJSON",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Request failed")
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(method+" "+path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrNetwork, path, err)
	}
	return nil
}

// statusError maps HTTP statuses onto the error taxonomy. 404 and 410
// mean the referenced link no longer exists; everything else
// non-2xx is treated as transient.
func statusError(op string, status int) error {
	if status == http.StatusNotFound || status == http.StatusGone {
		return fmt.Errorf("%w: %s: status %d", ErrLinkInvalid, op, status)
	}
	return fmt.Errorf("%w: %s: status %d", ErrNetwork, op, status)
}
