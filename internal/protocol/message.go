package protocol

import (
	"fmt"
	"strings"
)

// Event topics delivered by the platform.
const (
	TopicMessageCreate = "kso.app_chat.message.create"
	TopicChatMessage   = "kso.app_chat.message"
)

// Chat types.
const (
	ChatP2P   = "p2p"
	ChatGroup = "group"
)

// Payload is a decrypted event body. Ownership passes to the handler.
type Payload map[string]any

// Mention is one @-mention attached to a message.
type Mention struct {
	Name       string `json:"name"`
	IdentityID string `json:"identity_id"`
}

// Message is the chat-message view of a decrypted message event:
//
//	{"chat":{"id","type"},"message":{"id","type","content"},
//	 "sender":{"id","name"},"send_time":..., "mentions":[...]}
type Message struct {
	ID         string
	Type       string
	ChatID     string
	ChatType   string
	SenderID   string
	SenderName string
	SendTime   int64
	Content    string
	Mentions   []Mention
}

// IsGroup reports whether the message was posted in a group chat.
func (m Message) IsGroup() bool { return m.ChatType == ChatGroup }

// IsMentioned reports whether the message @-mentions anyone.
func (m Message) IsMentioned() bool { return len(m.Mentions) > 0 }

func (m Message) String() string {
	content := m.Content
	if r := []rune(content); len(r) > 30 {
		content = string(r[:30]) + "..."
	}
	return fmt.Sprintf("Message(id=%s, type=%s, chat=%s(%s), from=%s, content=%q)",
		m.ID, m.Type, m.ChatID, m.ChatType, m.SenderID, content)
}

// MessageID returns message.id from a payload, or "" when absent.
func (p Payload) MessageID() string {
	return str(obj(p["message"])["id"])
}

// ParseMessage extracts the message view from a decrypted payload. Missing
// or mistyped sections leave the corresponding fields empty.
func ParseMessage(p Payload) Message {
	msg := obj(p["message"])
	chat := obj(p["chat"])
	sender := obj(p["sender"])

	m := Message{
		ID:         str(msg["id"]),
		Type:       str(msg["type"]),
		ChatID:     str(chat["id"]),
		ChatType:   str(chat["type"]),
		SenderID:   str(sender["id"]),
		SenderName: str(sender["name"]),
		SendTime:   num(p["send_time"]),
	}
	m.Content = parseContent(m.Type, msg["content"])

	mentions, ok := p["mentions"].([]any)
	if !ok {
		mentions, _ = msg["mentions"].([]any)
	}
	for _, raw := range mentions {
		mo := obj(raw)
		if mo == nil {
			continue
		}
		m.Mentions = append(m.Mentions, Mention{
			Name:       str(mo["name"]),
			IdentityID: str(obj(mo["identity"])["id"]),
		})
	}
	return m
}

func parseContent(msgType string, raw any) string {
	content := obj(raw)
	if content == nil {
		if s, ok := raw.(string); ok {
			return s
		}
		return ""
	}

	switch msgType {
	case "text":
		if text := obj(content["text"]); text != nil {
			return str(text["content"])
		}
		return str(content["text"])
	case "rich_text":
		if rich := obj(content["rich_text"]); rich != nil {
			elems, _ := rich["elements"].([]any)
			return richText(elems)
		}
		return "[rich_text]"
	case "image":
		return "[image]"
	case "file":
		file := obj(content["file"])
		if local := obj(file["local"]); local != nil {
			return "[file] " + str(local["name"])
		}
		if cloud := obj(file["cloud"]); cloud != nil {
			return "[cloud_file] " + str(cloud["id"])
		}
		return "[file]"
	case "audio":
		return "[audio]"
	case "video":
		return "[video]"
	default:
		return ""
	}
}

func richText(elems []any) string {
	var b strings.Builder
	for _, raw := range elems {
		e := obj(raw)
		switch str(e["type"]) {
		case "text":
			b.WriteString(str(obj(e["text_content"])["content"]))
		case "style_text_content":
			b.WriteString(str(obj(e["style_text_content"])["text"]))
		case "mention":
			b.WriteString(str(obj(e["mention_content"])["text"]))
		case "nl":
			b.WriteByte('\n')
		case "image":
			b.WriteString("[image]")
		}
	}
	return b.String()
}

func obj(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Payload:
		return m
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
