package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	hostpool "github.com/bitly/go-hostpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/party"
)

// configurable constants
const (
	SchedulingUpdatePeriod = 30 * time.Second
	SchedulePubSubChannel  = "wp:schedule"
)

// url schemes for our backends
var (
	BackendWSScheme, _   = url.Parse("ws://example.com:8080")
	BackendRESTScheme, _ = url.Parse("http://example.com:8080")
)

// SchedulingStrategy enum
type SchedulingStrategy int

// SchedulingStrategy enum values
const (
	SchedulingStrategyBalance SchedulingStrategy = iota
	SchedulingStrategyCompact
)

// Backend type for serialisation
type Backend string

// ServerLoad type for serialisation
type ServerLoad float64

// ScheduleInfo defines the message format used by scheduler and
// orchestrator
type ScheduleInfo struct {
	Backends map[Backend]ServerLoad `json:"backends"`
	Strategy SchedulingStrategy     `json:"strategy"`
}

// NewScheduleInfo creates an empty scheduleinfo message
func NewScheduleInfo() *ScheduleInfo {
	return &ScheduleInfo{make(map[Backend]ServerLoad), SchedulingStrategyBalance}
}

// Scheduler implements a RESTful API to create parties, with the same
// API as implemented in the underlying backend servers. It delegates
// requests to a backend and registers the party with the registry.
type Scheduler struct {
	store  Storage
	info   *ScheduleInfo
	pool   hostpool.HostPool
	pubsub *redis.PubSub
	mutex  *sync.RWMutex
}

// NewScheduler creates a runnable scheduler with the given redis
// client and party registry.
func NewScheduler(rclient redis.UniversalClient, s Storage) *Scheduler {
	ps := rclient.Subscribe(context.Background(), SchedulePubSubChannel)
	return &Scheduler{
		store:  s,
		info:   NewScheduleInfo(),
		pool:   hostpool.New([]string{""}),
		pubsub: ps,
		mutex:  &sync.RWMutex{},
	}
}

// RebuildPool recreates the backend pool from the current
// scheduleinfo. NOT thread-safe.
func (sch *Scheduler) RebuildPool() {
	hosts := make([]string, 0, len(sch.info.Backends))
	for h := range sch.info.Backends {
		hosts = append(hosts, string(h))
	}
	if len(hosts) == 0 {
		hosts = []string{""}
	}
	sch.pool = hostpool.New(hosts)
}

// NextBackend returns a backend host using the current scheduling
// strategy.
func (sch *Scheduler) NextBackend() string {
	sch.mutex.RLock()
	defer sch.mutex.RUnlock()

	if sch.info.Strategy == SchedulingStrategyCompact {
		// Pack parties together: pick the fullest backend.
		best := ""
		bestLoad := ServerLoad(-1)
		for h, l := range sch.info.Backends {
			if l > bestLoad {
				best, bestLoad = string(h), l
			}
		}
		if best != "" {
			return best
		}
	}
	return sch.pool.Get().Host()
}

// RunScheduler consumes schedule info updates published by the
// orchestrator until ctx is cancelled.
func (sch *Scheduler) RunScheduler(ctx context.Context) {
	ch := sch.pubsub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			var s ScheduleInfo
			if err := json.Unmarshal([]byte(m.Payload), &s); err != nil {
				log.Warn().Err(err).Str("module", "schedule.scheduler").Msg("malformed schedule info update")
				continue
			}
			sch.mutex.Lock()
			sch.info = &s
			sch.RebuildPool()
			sch.mutex.Unlock()
			log.Info().Str("module", "schedule.scheduler").Int("backends", len(s.Backends)).Msg("schedule info updated")
		case <-ctx.Done():
			if err := sch.pubsub.Close(); err != nil {
				log.Warn().Err(err).Str("module", "schedule.scheduler").Msg("pubsub close failed")
			}
			return
		}
	}
}

// ProxyDirector returns a Director function for the reverseproxy
func (sch *Scheduler) ProxyDirector() func(*http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = BackendRESTScheme.Scheme
		req.URL.Host = sch.NextBackend()
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "")
		}
	}
}

// PartyRegister returns a ModifyResponse function for the reverseproxy
// that records which backend each created party landed on.
func (sch *Scheduler) PartyRegister() func(*http.Response) error {
	return func(rsp *http.Response) error {
		if rsp.StatusCode == http.StatusCreated {
			b, err := io.ReadAll(rsp.Body)
			if err != nil {
				return err
			}
			err = rsp.Body.Close()
			if err != nil {
				return err
			}
			var m party.PartyCreatedMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return errors.New("internal error during party creation")
			}
			sch.store.Set(m.PartyID, rsp.Request.URL.Host)
			// put the original content back
			rsp.Body = io.NopCloser(bytes.NewReader(b))
		}
		return nil
	}
}

// GetProxy returns the reverse proxy http.Handler
func (sch *Scheduler) GetProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{Director: sch.ProxyDirector(), ModifyResponse: sch.PartyRegister()}
}
