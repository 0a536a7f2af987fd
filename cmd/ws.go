package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lessonlift/models"
)

const (
	wsReadLimit    = 64 << 10
	wsWriteTimeout = 10 * time.Second
	wsRequestWait  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 鉴权在升级前由 UserAuthMiddleware 通过 ?token= 完成
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn 串行化写操作，gorilla 不允许并发写
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(ev models.ProgressEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(ev)
}

func (w *wsConn) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	_ = w.conn.Close()
}

// handleLessonSocket GET /v1/ws/lessons
// 客户端发送一个 LessonRequest，服务端推送 progress 事件，最后是 result 或 error
func handleLessonSocket(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			a.log.Warnf("WebSocket upgrade failed: %v", err)
			return
		}
		ws := &wsConn{conn: conn}
		conn.SetReadLimit(wsReadLimit)

		var req models.LessonRequest
		conn.SetReadDeadline(time.Now().Add(wsRequestWait))
		if err := conn.ReadJSON(&req); err != nil {
			_ = ws.send(models.ProgressEvent{
				Type: "error",
				Data: models.ErrorDetail{Message: "expected a lesson request: " + err.Error(), Type: "invalid_request_error"},
			})
			ws.close(websocket.CloseUnsupportedData, "invalid request")
			return
		}
		conn.SetReadDeadline(time.Time{})

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// 客户端断开时取消生成，生成结束后 Close 会让这个 goroutine 退出
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()

		progress := func(stage, message string) {
			if err := ws.send(models.ProgressEvent{Type: "progress", Stage: stage, Message: message}); err != nil {
				cancel()
			}
		}

		resp, err := a.lessons.Generate(ctx, user, req, progress)
		if err != nil {
			if ctx.Err() != nil && c.Request.Context().Err() == nil {
				a.log.Infof("WebSocket client for user %s disconnected during generation", user.PublicID)
			}
			status, detail := classifyError(err)
			if status >= 500 {
				a.log.WithError(err).Error("WebSocket lesson generation failed")
			}
			_ = ws.send(models.ProgressEvent{Type: "error", Message: detail.Message, Data: detail})
			ws.close(websocket.CloseNormalClosure, detail.Type)
			return
		}

		_ = ws.send(models.ProgressEvent{Type: "result", Stage: "done", Data: resp})
		ws.close(websocket.CloseNormalClosure, "done")
	}
}
