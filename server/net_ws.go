package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSendQueueFull 发送队列已满，消息被丢弃
var ErrSendQueueFull = errors.New("server: send queue full")

var errConnClosed = errors.New("server: connection closed")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	leaveWait  = 3 * time.Second
)

type frame struct {
	typ  int
	data []byte
}

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws     *websocket.Conn
	codec  Codec
	send   chan frame
	closed chan struct{}
	once   sync.Once
}

func NewClientConn(ws *websocket.Conn, codec Codec) *ClientConn {
	return &ClientConn{
		ws:     ws,
		codec:  codec,
		send:   make(chan frame, 64),
		closed: make(chan struct{}),
	}
}

// SendMessage 编码后压入队列（非阻塞，满则丢弃）
func (c *ClientConn) SendMessage(msgType string, payload any) error {
	b, err := c.codec.Encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- frame{typ: c.codec.FrameType(), data: b}:
		return nil
	default:
		// 为了实时性，丢弃新消息（防止阻塞 Tick）
		return ErrSendQueueFull
	}
}

// Close 关闭底层连接，写协程随之退出
func (c *ClientConn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.closed:
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(f.typ, f.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端输入，转换为命令注入房间
// nameHint 为连接时提供的显示名，join 未带名字时使用
func (c *ClientConn) readPump(m *Manager, clientID, nameHint string) {
	defer c.Close()
	// 读泵退出时，请求房间在 Tick 线程中移除该玩家并尽力持久化
	defer m.disconnect(clientID, c)
	c.ws.SetReadLimit(1 << 16)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	room := m.Room()
	for {
		ft, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugw("read error", "client", clientID, "error", err)
			}
			return
		}
		var im InputMessage
		if err := codecForFrame(ft).Decode(payload, &im); err != nil {
			// 非法输入直接忽略，不断开客户端
			continue
		}
		switch im.kind() {
		case inputJoin:
			if im.Name == "" {
				im.Name = nameHint
			}
			if err := room.Join(im.joinRequest(clientID)); err != nil {
				return
			}
		case inputMove:
			room.OnMove(clientID, im.VX, im.VY)
		case inputViewport:
			room.OnViewport(clientID, im.Width, im.Height)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?player=alice&enc=msgpack
// 客户端标识始终由服务端分配，player 只作为显示名
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	clientID := m.newClientID()
	nameHint := sanitizeName(r.URL.Query().Get("player"))
	codec := CodecFor(r.URL.Query().Get("enc"))

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "error", err)
		return
	}

	client := NewClientConn(ws, codec)
	if err := m.Room().Attach(clientID, client); err != nil {
		client.Close()
		return
	}
	Log.Infow("client connected", "client", clientID, "encoding", codec.Name(), "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump(m, clientID, nameHint)
}

// disconnect 从房间移除并同步写出最终状态；失败只记录日志
func (m *Manager) disconnect(clientID string, conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveWait)
	defer cancel()
	p, ok, err := m.Room().RequestLeave(ctx, clientID, conn)
	if err != nil {
		Log.Warnw("leave failed", "client", clientID, "error", err)
		return
	}
	Log.Infow("client disconnected", "client", clientID, "hadPlayer", ok)
	if !ok {
		return
	}
	if err := m.outbox.FlushRecord(ctx, recordOf(p)); err != nil {
		Log.Warnw("final write on disconnect failed", "client", clientID, "error", err)
	}
}
