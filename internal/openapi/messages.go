package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Receiver types.
const (
	ReceiverUser = "user"
	ReceiverChat = "chat"
)

// Receiver addresses a message.
type Receiver struct {
	ID   string `json:"receiver_id"`
	Type string `json:"type"`
}

// Mention marks a user to @ in a message.
type Mention struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// MessageRequest is the body of POST /v7/messages/create.
type MessageRequest struct {
	Type     string         `json:"type"`
	Receiver Receiver       `json:"receiver"`
	Content  map[string]any `json:"content"`
	Mentions []Mention      `json:"mentions,omitempty"`
}

// Validate checks the fields the API requires.
func (r MessageRequest) Validate() error {
	switch {
	case r.Type == "":
		return errors.New("message type is required")
	case r.Receiver.ID == "":
		return errors.New("receiver id is required")
	case r.Receiver.Type != ReceiverUser && r.Receiver.Type != ReceiverChat:
		return fmt.Errorf("receiver type %q must be %q or %q", r.Receiver.Type, ReceiverUser, ReceiverChat)
	}
	return nil
}

type messageResult struct {
	MessageID string `json:"message_id"`
}

// SendMessage posts a message and returns its platform id.
func (c *Client) SendMessage(ctx context.Context, msg MessageRequest) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	var out messageResult
	if err := c.call(ctx, "messages.create", http.MethodPost, PathMessageCreate, nil,
		"application/json", body, nil, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// SendText sends a plain text message to a user or chat.
func (c *Client) SendText(ctx context.Context, receiverType, receiverID, text string) (string, error) {
	return c.SendMessage(ctx, MessageRequest{
		Type:     "text",
		Receiver: Receiver{ID: receiverID, Type: receiverType},
		Content:  map[string]any{"text": map[string]any{"content": text, "type": "plain"}},
	})
}

// Reply answers in the chat the original message came from. The API has
// no quote-reply, so this posts a new message to the chat.
func (c *Client) Reply(ctx context.Context, chatID, text string) (string, error) {
	return c.SendText(ctx, ReceiverChat, chatID, text)
}

type uploadResult struct {
	URL string `json:"url"`
}

// UploadImage uploads image bytes and returns the hosted URL.
func (c *Client) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("image data is empty")
	}
	if filename == "" {
		filename = "image.png"
	}

	// Boundary must match between header and body, so fix it once.
	boundary := multipart.NewWriter(io.Discard).Boundary()
	build := func() (io.Reader, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := w.SetBoundary(boundary); err != nil {
			return nil, err
		}
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return &buf, nil
	}

	var out uploadResult
	if err := c.call(ctx, "media.upload", http.MethodPost, PathMediaUpload, nil,
		"multipart/form-data; boundary="+boundary, nil, build, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
