package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/party"
)

// Orchestrator defaults for the stock kubernetes deployment.
const (
	DefaultBackendSelector   = "tier=backend"
	DefaultBackendHostFormat = "wp-backend-%d.ws-backend-service:8080"
)

const backendPollTimeout = 5 * time.Second

// OrchestratorConfig tunes pod discovery and load reporting.
type OrchestratorConfig struct {
	Namespace         string
	LabelSelector     string
	BackendHostFormat string
	PollPeriod        time.Duration
	Strategy          SchedulingStrategy
}

// DefaultOrchestratorConfig returns the stock tuning.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Namespace:         "",
		LabelSelector:     DefaultBackendSelector,
		BackendHostFormat: DefaultBackendHostFormat,
		PollPeriod:        SchedulingUpdatePeriod,
		Strategy:          SchedulingStrategyBalance,
	}
}

// Orchestrator discovers backend pods, polls their load and keeps the
// party registry and the scheduler's view of the world current.
type Orchestrator struct {
	store  Storage
	client redis.UniversalClient
	cfg    OrchestratorConfig
	poller *http.Client
}

// NewOrchestrator creates an orchestrator publishing through the given
// redis client and registering parties in s.
func NewOrchestrator(rclient redis.UniversalClient, s Storage, cfg OrchestratorConfig) *Orchestrator {
	if cfg.LabelSelector == "" {
		cfg.LabelSelector = DefaultBackendSelector
	}
	if cfg.BackendHostFormat == "" {
		cfg.BackendHostFormat = DefaultBackendHostFormat
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = SchedulingUpdatePeriod
	}
	return &Orchestrator{
		store:  s,
		client: rclient,
		cfg:    cfg,
		poller: &http.Client{Timeout: backendPollTimeout},
	}
}

// pollBackend fetches one backend's load report.
func (o *Orchestrator) pollBackend(host string) (*party.ServerInfoMsg, error) {
	rsp, err := o.poller.Get("http://" + host + "/server")
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	buf, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	var m party.ServerInfoMsg
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateBackendInfo discovers pods, refreshes the party registry and
// publishes a new schedule to the scheduler tier.
func (o *Orchestrator) UpdateBackendInfo(ctx context.Context, clientset kubernetes.Interface) error {
	pods, err := clientset.CoreV1().Pods(o.cfg.Namespace).List(ctx, metav1.ListOptions{LabelSelector: o.cfg.LabelSelector})
	if err != nil {
		return err
	}
	npods := len(pods.Items)

	b := make(map[Backend]ServerLoad)
	for i := 0; i < npods; i++ {
		host := fmt.Sprintf(o.cfg.BackendHostFormat, i)
		m, err := o.pollBackend(host)
		if err != nil {
			// An unreachable backend gets no new parties until it
			// answers again.
			log.Warn().Err(err).Str("module", "schedule.orchestrator").Str("backend", host).Msg("backend poll failed")
			continue
		}
		for _, pid := range m.Parties {
			o.store.Set(pid, host)
		}
		b[Backend(host)] = ServerLoad(m.NParty)
	}

	msg, err := json.Marshal(&ScheduleInfo{
		Backends: b,
		Strategy: o.cfg.Strategy,
	})
	if err != nil {
		return err
	}
	if err := o.client.Publish(ctx, SchedulePubSubChannel, string(msg)).Err(); err != nil {
		return err
	}
	log.Info().Str("module", "schedule.orchestrator").Int("pods", npods).Int("backends", len(b)).Msg("schedule published")
	return nil
}

// Run polls the cluster until ctx is cancelled. It must run inside the
// cluster it orchestrates.
func (o *Orchestrator) Run(ctx context.Context) error {
	config, err := rest.InClusterConfig()
	if err != nil {
		return err
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return err
	}
	return o.RunWithClientset(ctx, clientset)
}

// RunWithClientset is Run with an injected kubernetes client.
func (o *Orchestrator) RunWithClientset(ctx context.Context, clientset kubernetes.Interface) error {
	ticker := time.NewTicker(o.cfg.PollPeriod)
	defer func() {
		ticker.Stop()
		if err := o.client.Close(); err != nil {
			log.Warn().Err(err).Str("module", "schedule.orchestrator").Msg("redis close failed")
		}
	}()

	if err := o.UpdateBackendInfo(ctx, clientset); err != nil {
		log.Error().Err(err).Str("module", "schedule.orchestrator").Msg("schedule update failed")
	}
	for {
		select {
		case <-ticker.C:
			if err := o.UpdateBackendInfo(ctx, clientset); err != nil {
				log.Error().Err(err).Str("module", "schedule.orchestrator").Msg("schedule update failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
