package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/fieldsafe/safegate/internal/dispatch"
	"github.com/fieldsafe/safegate/internal/logx"
)

// WSHandler accepts client websocket connections and runs their
// lifecycle through the dispatcher: a connect event on accept, one
// default event per inbound message, and a disconnect event when the
// socket drops.
func WSHandler(hub *Hub, d *dispatch.Dispatcher, pushBase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer func() {
			_ = c.Close(websocket.StatusInternalError, "server error")
		}()
		ctx := r.Context()

		connID := uuid.NewString()
		endpoint := pushBase
		if endpoint == "" {
			scheme := "https"
			if r.TLS == nil {
				scheme = "http"
			}
			endpoint = scheme + "://" + r.Host + "/connections"
		}

		hub.Add(connID, c)
		d.Handle(ctx, dispatch.Event{Route: dispatch.RouteConnect, ConnectionID: connID})
		defer func() {
			hub.Remove(connID)
			// The request context is already done when the read loop
			// exits, so teardown gets its own deadline.
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			d.Handle(dctx, dispatch.Event{Route: dispatch.RouteDisconnect, ConnectionID: connID})
		}()

		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
					logx.Log.Debug().Err(err).Str("connection_id", connID).Msg("read loop ended")
				}
				return
			}
			res := d.Handle(ctx, dispatch.Event{
				Route:        dispatch.RouteDefault,
				ConnectionID: connID,
				Body:         data,
				PushEndpoint: endpoint,
				Push:         hub,
			})
			if res.Status != http.StatusOK {
				ack, _ := json.Marshal(map[string]any{"statusCode": res.Status, "message": res.Body})
				if err := c.Write(ctx, websocket.MessageText, ack); err != nil {
					return
				}
			}
		}
	}
}
