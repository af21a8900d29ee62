package server

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// 出站消息类型
const (
	MsgWelcome   = "welcome"
	MsgGameState = "gameState"
	MsgAbsorbed  = "absorbed"
)

// Envelope 出站消息外壳
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Codec 连接级编码：文本 JSON 或二进制 msgpack，由 ?enc= 决定
type Codec interface {
	Name() string
	FrameType() int
	Encode(msgType string, payload any) ([]byte, error)
	Decode(b []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(msgType string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Data: payload})
}

func (jsonCodec) Decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// msgpackCodec 复用 json 标签（含 omitempty），两种编码的字段与形状保持一致
type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(msgType string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(Envelope{Type: msgType, Data: payload}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// CodecFor 按名称选择编码，未知名称回落到 JSON
func CodecFor(name string) Codec {
	switch strings.ToLower(name) {
	case "msgpack", "mp":
		return msgpackCodec{}
	default:
		return jsonCodec{}
	}
}

// codecForFrame 入站帧按帧类型解码，与连接的出站编码无关
func codecForFrame(frameType int) Codec {
	if frameType == websocket.BinaryMessage {
		return msgpackCodec{}
	}
	return jsonCodec{}
}
