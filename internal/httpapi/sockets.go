package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"livehub/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	if len(socketOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients do not send one
		return true
	}
	for _, o := range socketOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// socketHandler upgrades the request and hands the connection to serve for
// its whole lifetime. Connections end with the socket or on shutdown.
func socketHandler(serve func(context.Context, *transport.Peer) error, opts transport.PeerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			IncrementRejected("origin")
			writeJSONError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response
			IncrementRejected("upgrade")
			return
		}
		opts.RemoteAddr = r.RemoteAddr
		if zlog != nil && opts.Logger == nil {
			opts.Logger = zlog
		}
		p := transport.NewPeer(conn, opts)
		stop := context.AfterFunc(serverBaseCtx, p.Close)
		defer stop()
		if err := serve(serverBaseCtx, p); err != nil && zlog != nil {
			zlog.Debug().Err(err).Str("path", r.URL.Path).Str("conn", p.ID()).Msg("socket closed")
		}
	}
}
