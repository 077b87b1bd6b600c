package subscribers

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jerry-enebeli/swapflow/model"
)

const writeWait = 10 * time.Second

// WebsocketConn adapts a gorilla websocket to Conn. Writes are serialized
// since the websocket allows one concurrent writer.
type WebsocketConn struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func NewWebsocketConn(conn *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{id: model.GenerateUUIDWithSuffix("sub"), conn: conn}
}

func (w *WebsocketConn) ID() string {
	return w.id
}

func (w *WebsocketConn) Send(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.closed {
		return websocket.ErrCloseSent
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebsocketConn) Close() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

// Serve registers conn and blocks until the client goes away. Anything the
// client sends is discarded.
func (r *Registry) Serve(conn *websocket.Conn) error {
	ws := NewWebsocketConn(conn)
	if err := r.Add(ws); err != nil {
		return err
	}
	defer r.Remove(ws.ID())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
