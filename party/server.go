package party

import (
	"errors"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server registry errors.
var (
	ErrPartyExists  = errors.New("party already exists")
	ErrServerClosed = errors.New("server closed")
)

// PartySettings carries per-party overrides applied at creation.
type PartySettings struct {
	VideoID          string
	AnyoneCanControl *bool
	MemberPolls      *bool
}

// Server owns the room registry and the collaborators shared by all
// rooms: presence, fanout, metrics and the optional event sink.
type Server struct {
	opts     Options
	presence *PresenceStore
	fanout   *Fanout
	sink     *SinkQueue
	metrics  *Metrics
	identity IdentityFunc
	upgrader *websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]*Room

	closing chan struct{}
	once    sync.Once
}

// NewServer creates a server with the given room options. sink may be
// nil when no persistence collaborator is configured.
func NewServer(opts Options, sink *SinkQueue) *Server {
	metrics := NewMetrics()
	presence := NewPresenceStore()
	return &Server{
		opts:     opts,
		presence: presence,
		fanout:   NewFanout(presence, sink, metrics),
		sink:     sink,
		metrics:  metrics,
		identity: HeaderIdentity,
		rooms:    make(map[string]*Room),
		closing:  make(chan struct{}),
		upgrader: GetWSUpgrader(),
	}
}

// SetIdentityFunc replaces the identity resolver used for new
// connections. Must be called before serving traffic.
func (s *Server) SetIdentityFunc(fn IdentityFunc) {
	s.identity = fn
}

// Metrics returns the server's metrics tracker.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Room returns the live room for the id.
func (s *Server) Room(id string) (*Room, bool) {
	s.mu.RLock()
	r, ok := s.rooms[id]
	s.mu.RUnlock()
	return r, ok
}

// RoomIDs lists the ids of all live rooms in stable order.
func (s *Server) RoomIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CreateParty registers a room with explicit settings ahead of the
// first connection.
func (s *Server) CreateParty(id string, settings PartySettings) (*Room, error) {
	select {
	case <-s.closing:
		return nil, ErrServerClosed
	default:
	}

	opts := s.opts
	opts.InitialVideo = settings.VideoID
	if settings.AnyoneCanControl != nil {
		opts.AnyoneCanControl = *settings.AnyoneCanControl
	}
	if settings.MemberPolls != nil {
		opts.MemberPolls = *settings.MemberPolls
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; ok {
		return nil, ErrPartyExists
	}
	return s.startRoomLocked(id, opts), nil
}

// GetOrCreateRoom resolves the room for a party id, creating it with the
// server defaults when absent.
func (s *Server) GetOrCreateRoom(id string) (*Room, error) {
	select {
	case <-s.closing:
		return nil, ErrServerClosed
	default:
	}

	s.mu.RLock()
	r, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		return r, nil
	}
	return s.startRoomLocked(id, s.opts), nil
}

func (s *Server) startRoomLocked(id string, opts Options) *Room {
	r := NewRoom(id, opts, s.presence, s.fanout, s.metrics)
	r.onStop = s.dropRoom
	s.rooms[id] = r
	go r.RunManager()
	log.Info().Str("module", "party.server").Str("party", id).Msg("room registered")
	return r
}

// dropRoom runs on the room's manager goroutine during teardown.
func (s *Server) dropRoom(r *Room) {
	s.mu.Lock()
	if cur, ok := s.rooms[r.ID]; ok && cur == r {
		delete(s.rooms, r.ID)
	}
	s.mu.Unlock()
}

// Close stops every room, waits for them to drain and shuts the sink
// down.
func (s *Server) Close() {
	s.once.Do(func() { close(s.closing) })

	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	for _, r := range rooms {
		r.Stop()
	}
	for _, r := range rooms {
		<-r.Done()
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.Warn().Err(err).Str("module", "party.server").Msg("sink close failed")
		}
	}
	log.Info().Str("module", "party.server").Msg("server closed")
}
