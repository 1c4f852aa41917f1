package draftdesk

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/eringen/draftdesk/document"
)

const (
	eventsPingPeriod = 30 * time.Second
	eventsWriteWait  = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// listEvent is exchanged on the list events socket. The server sends
// "stale"; the page answers "ack" once it has refreshed.
type listEvent struct {
	Type string          `json:"type"`
	View document.Status `json:"view"`
}

// handleListEvents pushes staleness of one list view to a mounted page.
// The subscription stays flagged until the page acknowledges.
func (a *App) handleListEvents(c echo.Context) error {
	view, err := document.ParseStatus(c.QueryParam("view"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tab := TabID(c)

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		c.Logger().Warnf("tab %s: websocket upgrade: %v", tab, err)
		return nil
	}
	defer conn.Close()

	sub := a.Invalidator.Hub().Subscribe(tab, view)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg listEvent
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ack" {
				sub.Ack()
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return nil
			}
		case _, ok := <-sub.C():
			if !ok {
				return nil
			}
			if !sub.Pending() {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(listEvent{Type: "stale", View: view}); err != nil {
				return nil
			}
		}
	}
}
