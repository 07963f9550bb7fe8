package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// outboundWriter is the only goroutine that writes to the socket. Audio and
// video each have their own FIFO so each kind keeps capture order.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	audio        <-chan []byte
	video        <-chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration
	onWrite      func(kind string, n int)
}

func (w *outboundWriter) Run() error {
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return nil

		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}

		case msg := <-w.audio:
			if err := w.write(msg, writeTimeout, "audio"); err != nil {
				return err
			}

		case msg := <-w.video:
			if err := w.write(msg, writeTimeout, "video"); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) write(msg []byte, timeout time.Duration, kind string) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := w.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}
	if w.onWrite != nil {
		w.onWrite(kind, len(msg))
	}
	return nil
}
