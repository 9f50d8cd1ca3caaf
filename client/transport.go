package client

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coopsession/protocol"
)

const writeWait = 5 * time.Second

// transport 客户端到协调器的有序可靠通道
type transport interface {
	Send(m protocol.Message) error
	Close() error
}

// wsTransport gorilla 连接的写端包装：同一时间只允许一个写者
type wsTransport struct {
	ws   *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
	done chan struct{} // 读协程退出时关闭
}

func newWSTransport(ws *websocket.Conn) *wsTransport {
	return &wsTransport{ws: ws, done: make(chan struct{})}
}

func (t *wsTransport) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteMessage(websocket.TextMessage, b)
}

// Close 幂等：先尝试正常关闭帧，再关闭底层连接
func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = t.ws.Close()
	})
	return err
}
