package party

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Identity is the verified principal attached to a connection.
// Credential checking happens upstream at the edge; the engine only
// consumes the result.
type Identity struct {
	UserID string
	Role   Role
}

// IdentityFunc resolves the identity for an incoming upgrade request.
type IdentityFunc func(r *http.Request) (Identity, error)

// Identity headers injected by the edge proxy.
const (
	HeaderAuthUser = "X-Auth-User"
	HeaderAuthRole = "X-Auth-Role"
)

// ErrNoIdentity reports a request carrying no usable identity.
var ErrNoIdentity = errors.New("no verified identity on request")

// HeaderIdentity reads the identity the edge proxy injects as headers.
func HeaderIdentity(r *http.Request) (Identity, error) {
	uid := r.Header.Get(HeaderAuthUser)
	if uid == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{UserID: uid, Role: ParseRole(r.Header.Get(HeaderAuthRole))}, nil
}

// AnonymousIdentity falls back to a generated guest identity when next
// yields none. Meant for development deployments.
func AnonymousIdentity(next IdentityFunc) IdentityFunc {
	return func(r *http.Request) (Identity, error) {
		id, err := next(r)
		if err == nil {
			return id, nil
		}
		return Identity{UserID: "guest-" + uuid.NewString()[:8], Role: RoleMember}, nil
	}
}

// WebsocketSubprotocol is the accepted application subprotocol.
const WebsocketSubprotocol = "watchparty_v1"

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

// GetWSUpgrader returns an upgrader negotiating the party subprotocol.
// The reverse proxy shares it so handshakes behave identically at both
// tiers.
func GetWSUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		Subprotocols:    []string{WebsocketSubprotocol},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// joinAttempts bounds the lookup-join retry when a room shuts down
// between resolving it and queueing the join.
const joinAttempts = 3

// WSHandler returns the websocket entry point for party connections.
func (s *Server) WSHandler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	partyID := r.URL.Query().Get("party")
	if partyID == "" {
		http.Error(w, "missing party id", http.StatusBadRequest)
		return
	}

	identity, err := s.identity(r)
	if err != nil {
		log.Warn().Err(err).Str("module", "party.gateway").Str("remote", r.RemoteAddr).Msg("identity rejected")
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "party.gateway").Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	if sock.Subprotocol() != WebsocketSubprotocol {
		reason := websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol")
		_ = sock.WriteMessage(websocket.CloseMessage, reason)
		_ = sock.Close()
		return
	}

	cid := xid.New().String()
	for attempt := 0; attempt < joinAttempts; attempt++ {
		room, err := s.GetOrCreateRoom(partyID)
		if err != nil {
			break
		}
		c := newWSConn(cid, identity.UserID, identity.Role, sock, room, s.presence, s.metrics, s.opts.OutboundQueue)
		s.presence.Register(partyID, c)
		if room.EnqueueJoin(c) {
			s.metrics.IncrementConnections()
			go c.writePump()
			go c.readPump()
			log.Info().Str("module", "party.gateway").Str("party", partyID).Str("user", identity.UserID).Str("conn", cid).Str("remote", r.RemoteAddr).Msg("connection accepted")
			return
		}
		// The room shut down between lookup and join; retry against a
		// fresh one.
		s.presence.Unregister(cid)
	}

	reason := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "party unavailable")
	_ = sock.WriteMessage(websocket.CloseMessage, reason)
	_ = sock.Close()
}
