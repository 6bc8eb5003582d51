package party

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
)

const (
	partyInfoTimeOut = 5 * time.Second
	partyEndTimeOut  = 5 * time.Second
)

// ServerInfoMsg is the load report polled by the orchestrator.
type ServerInfoMsg struct {
	OK      bool     `json:"ok"`
	NParty  int      `json:"nparty"`
	Parties []string `json:"parties"`
}

type PartyCreatedMsg struct {
	OK      bool   `json:"ok"`
	PartyID string `json:"partyID"`
}

// CreatePartyRequest is the POST /party body. Every field is optional;
// a missing party_id is generated server side.
type CreatePartyRequest struct {
	PartyID          string `json:"party_id"`
	VideoID          string `json:"video_id"`
	AnyoneCanControl *bool  `json:"anyone_can_control"`
	MemberPolls      *bool  `json:"allow_member_polls"`
}

func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {

	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

func createParty(s *Server, w http.ResponseWriter, r *http.Request) {
	var req CreatePartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondWithError("malformed request body", http.StatusBadRequest, w)
		return
	}

	pid := req.PartyID
	if pid == "" {
		pid = xid.New().String()
	}

	_, err := s.CreateParty(pid, PartySettings{
		VideoID:          req.VideoID,
		AnyoneCanControl: req.AnyoneCanControl,
		MemberPolls:      req.MemberPolls,
	})
	switch {
	case errors.Is(err, ErrPartyExists):
		RespondWithError("party already exists", http.StatusConflict, w)
	case errors.Is(err, ErrServerClosed):
		RespondWithError("server is shutting down", http.StatusServiceUnavailable, w)
	case err != nil:
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
	default:
		RespondWithJSON(PartyCreatedMsg{
			true,
			pid,
		}, http.StatusCreated, w)
	}
}

func getParty(s *Server, w http.ResponseWriter, r *http.Request) {
	pid := mux.Vars(r)["pid"]
	room, ok := s.Room(pid)
	if !ok {
		RespondWithError("no such party", http.StatusNotFound, w)
		return
	}

	snap, err := room.Info(partyInfoTimeOut)
	switch {
	case errors.Is(err, ErrRoomClosed):
		RespondWithError("no such party", http.StatusNotFound, w)
	case errors.Is(err, ErrRoomBusy):
		RespondWithError(
			"Party info timed out.",
			http.StatusRequestTimeout,
			w,
		)
	case err != nil:
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
	default:
		RespondWithJSON(snap, http.StatusOK, w)
	}
}

func endParty(s *Server, w http.ResponseWriter, r *http.Request) {
	pid := mux.Vars(r)["pid"]
	room, ok := s.Room(pid)
	if !ok {
		RespondWithError("no such party", http.StatusNotFound, w)
		return
	}

	room.Stop()
	select {
	case <-room.Done():
		RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
	case <-time.After(partyEndTimeOut):
		RespondWithError(
			"Party teardown timed out.",
			http.StatusRequestTimeout,
			w,
		)
	}
}

func getServerInfo(s *Server, w http.ResponseWriter, r *http.Request) {
	ids := s.RoomIDs()
	RespondWithJSON(&ServerInfoMsg{
		true,
		len(ids),
		ids,
	}, http.StatusOK, w)
}

func getStats(s *Server, w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(s.metrics.Snapshot(), http.StatusOK, w)
}

func getHealth(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
}

// NewWatchPartyRestMux makes the RESTful API servemux of server
func NewWatchPartyRestMux(server *Server) *mux.Router {
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/", http.NotFound)
	restMux.HandleFunc("/party", func(w http.ResponseWriter, r *http.Request) {
		createParty(server, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/party/{pid}", func(w http.ResponseWriter, r *http.Request) {
		getParty(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/party/{pid}", func(w http.ResponseWriter, r *http.Request) {
		endParty(server, w, r)
	}).Methods("DELETE")
	restMux.HandleFunc("/server", func(w http.ResponseWriter, r *http.Request) {
		getServerInfo(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		getStats(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/healthz", getHealth).Methods("GET")
	return restMux
}
