package server

import (
	"strings"
	"unicode"

	"blobarena/arena"
)

const maxNameRunes = 24

// InputMessage 入站消息（意图），由服务端解释并驱动世界状态
// 示例：{"type":"move","vx":1.5,"vy":-2}
//
//	{"type":"join","x":100,"y":100,"radius":20,"name":"alice","viewport":{"width":800,"height":600}}
//	{"type":"viewport","width":1280,"height":720}
type InputMessage struct {
	Type string `json:"type"`

	// join
	X        *float64         `json:"x,omitempty"`
	Y        *float64         `json:"y,omitempty"`
	Radius   *float64         `json:"radius,omitempty"`
	Name     string           `json:"name,omitempty"`
	Viewport *ViewportMessage `json:"viewport,omitempty"`

	// move
	VX float64 `json:"vx,omitempty"`
	VY float64 `json:"vy,omitempty"`

	// viewport
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

type ViewportMessage struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// 入站消息类别（兼容旧客户端的事件名）
const (
	inputJoin     = "join"
	inputMove     = "move"
	inputViewport = "viewport"
)

func (m InputMessage) kind() string {
	switch strings.ToLower(m.Type) {
	case "join", "joingame":
		return inputJoin
	case "move":
		return inputMove
	case "viewport", "updateviewport":
		return inputViewport
	default:
		return ""
	}
}

// joinRequest 只有 x、y 同时给出时才使用客户端位置
func (m InputMessage) joinRequest(clientID string) arena.JoinRequest {
	req := arena.JoinRequest{
		ClientID: clientID,
		Radius:   m.Radius,
		Name:     sanitizeName(m.Name),
	}
	if m.X != nil && m.Y != nil {
		req.Position = &arena.Vec2{X: *m.X, Y: *m.Y}
	}
	if m.Viewport != nil {
		req.Viewport = &arena.Viewport{Width: m.Viewport.Width, Height: m.Viewport.Height}
	}
	return req
}

// sanitizeName 去掉控制字符并截断
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}
	return name
}
