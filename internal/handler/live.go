package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/service"
)

// LiveHandler serves the public view of the lane, once over REST and as a
// stream over websocket. The stream pushes on every record change and on a
// fixed interval so the countdown and chain state stay fresh.
type LiveHandler struct {
	Projector *service.Projector
	Machine   *service.Machine
	Interval  time.Duration
	Logger    *zap.Logger
}

func (h *LiveHandler) Register(r gin.IRouter) {
	r.GET("/api/v1/live", h.get)
	r.GET("/api/v1/live/ws", h.stream)
}

// @Summary Current live auction, bid history, queue preview and cooldown
// @Tags live
// @Produce json
// @Success 200 {object} apiResponse
// @Router /api/v1/live [get]
func (h *LiveHandler) get(c *gin.Context) {
	view, err := h.Projector.Project(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, view, nil)
}

func (h *LiveHandler) interval() time.Duration {
	if h.Interval <= 0 {
		return 5 * time.Second
	}
	return h.Interval
}

func (h *LiveHandler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// @Summary Stream the live view over websocket
// @Tags live
// @Router /api/v1/live/ws [get]
func (h *LiveHandler) stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log().Debug("live ws accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	changed := make(chan struct{}, 1)
	unsubscribe := h.Machine.OnRecordsChanged(changefeed.Filter{}, func(changefeed.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(h.interval())
	defer ticker.Stop()

	if err := h.push(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-changed:
		case <-ticker.C:
		}
		if err := h.push(ctx, conn); err != nil {
			return
		}
	}
}

type liveFrame struct {
	Type  string            `json:"type"`
	View  *service.LiveView `json:"view,omitempty"`
	Error string            `json:"error,omitempty"`
}

// push writes one frame. A projection failure is reported to the client and
// does not end the stream; a write failure does.
func (h *LiveHandler) push(ctx context.Context, conn *websocket.Conn) error {
	view, err := h.Projector.Project(ctx)
	frame := liveFrame{Type: "live", View: view}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.log().Warn("live projection failed", zap.Error(err))
		frame = liveFrame{Type: "error", Error: err.Error()}
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(wctx, conn, frame); err != nil {
		h.log().Debug("live ws write failed", zap.Error(err))
		return err
	}
	return nil
}

