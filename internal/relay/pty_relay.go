package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20 // audio chunks are the largest client messages
)

// ServeWS upgrades a browser connection and runs it until either side
// closes. Authentication happens before this handler.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // clients arrive through the tunnel host
	})
	if err != nil {
		r.log.Warn("websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	c := r.AddClient(cancel)
	defer r.RemoveClient(c.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		r.writeLoop(ctx, conn, c)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.log.Debug("read ended", "err", err)
			break
		}
		r.Route(ctx, c, data)
	}

	cancel()
	<-writerDone
	if c.Slow() {
		conn.Close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (r *Relay) writeLoop(ctx context.Context, conn *websocket.Conn, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.log.Debug("write failed", "err", err)
				c.disconnect(false)
				return
			}
		}
	}
}
