// Package codec encodes messages and content parts as JSON.
//
// Each part is an object tagged with a "type" field holding its
// [content.Kind]. Image payloads travel base64-encoded; decoded images hold
// raw bytes again. Decoding validates through [message.New], so anything
// that decodes is a legal message.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/chats/role"
	"github.com/tidwall/gjson"
)

type wireMessage struct {
	Role    string            `json:"role"`
	Name    string            `json:"name,omitempty"`
	Content []json.RawMessage `json:"content"`
}

type wireText struct {
	Type content.Kind `json:"type"`
	Text string       `json:"text"`
}

type wireToolCall struct {
	Type   content.Kind    `json:"type"`
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
}

type wireToolResult struct {
	Type    content.Kind `json:"type"`
	CallID  string       `json:"callId"`
	Content string       `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type wireImage struct {
	Type     content.Kind `json:"type"`
	MimeType string       `json:"mimeType"`
	Data     []byte       `json:"data"`
}

type wireExtraData struct {
	Type content.Kind    `json:"type"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalPart encodes a single content part.
func MarshalPart(p content.Part) ([]byte, error) {
	switch v := p.(type) {
	case content.Text:
		return json.Marshal(wireText{Type: content.KindText, Text: v.Text})
	case content.ToolCall:
		return json.Marshal(wireToolCall{
			Type:   content.KindToolCall,
			CallID: v.ID,
			Name:   v.Name,
			Input:  json.RawMessage(v.Arguments),
		})
	case content.ToolResult:
		return json.Marshal(wireToolResult{
			Type:    content.KindToolResult,
			CallID:  v.ToolCallID,
			Content: v.Content,
			IsError: v.IsError,
		})
	case content.Image:
		return json.Marshal(wireImage{Type: content.KindImage, MimeType: string(v.MimeType), Data: v.Data})
	case content.ExtraData:
		return json.Marshal(wireExtraData{Type: content.KindExtraData, Kind: v.Kind, Data: v.Data})
	case nil:
		return nil, fmt.Errorf("codec: %w: nil part", content.ErrInvalidPart)
	default:
		return nil, fmt.Errorf("codec: unsupported part %T", p)
	}
}

// UnmarshalPart decodes and validates a single content part.
func UnmarshalPart(data []byte) (content.Part, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("codec: malformed part")
	}

	kind := content.Kind(gjson.GetBytes(data, "type").String())

	var (
		p   content.Part
		err error
	)

	switch kind {
	case content.KindText:
		var w wireText
		err = json.Unmarshal(data, &w)
		p = content.Text{Text: w.Text}
	case content.KindToolCall:
		var w wireToolCall
		err = json.Unmarshal(data, &w)
		p = content.ToolCall{ID: w.CallID, Name: w.Name, Arguments: string(w.Input)}
	case content.KindToolResult:
		var w wireToolResult
		err = json.Unmarshal(data, &w)
		p = content.ToolResult{ToolCallID: w.CallID, Content: w.Content, IsError: w.IsError}
	case content.KindImage:
		var w wireImage
		err = json.Unmarshal(data, &w)
		p = content.Image{MimeType: content.MimeType(w.MimeType), Data: w.Data}
	case content.KindExtraData:
		var w wireExtraData
		err = json.Unmarshal(data, &w)
		p = content.ExtraData{Kind: w.Kind, Data: w.Data}
	default:
		return nil, fmt.Errorf("codec: %w: unknown part type %q", content.ErrInvalidPart, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("codec: decode %s part: %w", kind, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	return p, nil
}

// MarshalMessage encodes a message.
func MarshalMessage(m message.Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalMessage decodes and validates a message.
func UnmarshalMessage(data []byte) (message.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return message.Message{}, fmt.Errorf("codec: decode message: %w", err)
	}
	return fromWire(w)
}

// MarshalMessages encodes a conversation as a JSON array.
func MarshalMessages(msgs []message.Message) ([]byte, error) {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		w, err := toWire(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out[i] = w
	}
	return json.Marshal(out)
}

// UnmarshalMessages decodes a JSON array of messages, preserving order.
func UnmarshalMessages(data []byte) ([]message.Message, error) {
	var ws []wireMessage
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("codec: decode messages: %w", err)
	}

	msgs := make([]message.Message, len(ws))
	for i, w := range ws {
		m, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs[i] = m
	}
	return msgs, nil
}

func toWire(m message.Message) (wireMessage, error) {
	w := wireMessage{
		Role:    m.Role.String(),
		Name:    m.Name,
		Content: make([]json.RawMessage, len(m.Parts)),
	}

	for i, p := range m.Parts {
		b, err := MarshalPart(p)
		if err != nil {
			return wireMessage{}, fmt.Errorf("part %d: %w", i, err)
		}
		w.Content[i] = b
	}

	return w, nil
}

func fromWire(w wireMessage) (message.Message, error) {
	var parts []content.Part
	for i, raw := range w.Content {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return message.Message{}, fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, p)
	}

	m, err := message.New(role.Role(w.Role), w.Name, parts...)
	if err != nil {
		return message.Message{}, fmt.Errorf("codec: %w", err)
	}
	return m, nil
}
