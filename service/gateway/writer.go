package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writePump 每连接唯一的写协程：业务帧、ping、关闭都从这里写
func (s *Server) writePump(w *WsConn) {
	conf := s.mgr.Conf()
	ticker := time.NewTicker(conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = w.Conn.SetWriteDeadline(time.Now().Add(conf.WriteTimeout))
		_ = w.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = w.Conn.Close()
	}()

	for {
		select {
		case payload := <-w.SendChan:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(conf.WriteTimeout))
			if err := w.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Info("write payload failed", zap.String("snowID", w.SnowID), zap.Error(err))
				w.Close()
				return
			}
		case <-ticker.C:
			if err := w.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(conf.WriteTimeout)); err != nil {
				s.log.Info("ping failed", zap.String("snowID", w.SnowID), zap.Error(err))
				w.Close()
				return
			}
		case <-w.Done():
			// 把已排队的消息尽量写完再关
			for {
				select {
				case payload := <-w.SendChan:
					_ = w.Conn.SetWriteDeadline(time.Now().Add(conf.WriteTimeout))
					if err := w.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
