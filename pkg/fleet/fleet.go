/*
Package fleet runs a set of bots against one provider, fans prompts out to
all of them and gathers their answers.
*/
package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/bot"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/metrics"
	"github.com/theapemachine/gridswarm/pkg/provider"
	"github.com/theapemachine/gridswarm/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Bots           int           `mapstructure:"count"`
	Strategy       string        `mapstructure:"strategy"`
	SpawnStagger   time.Duration `mapstructure:"spawn_stagger"`
	BroadcastRate  float64       `mapstructure:"broadcast_rate"`
	CollectTimeout time.Duration `mapstructure:"collect_timeout"`
	Bot            bot.Config    `mapstructure:"bot"`
}

func DefaultConfig() Config {
	return Config{
		Bots:           4,
		Strategy:       RoundRobin,
		SpawnStagger:   50 * time.Millisecond,
		CollectTimeout: 30 * time.Second,
		Bot:            bot.DefaultConfig(),
	}
}

// Factory returns the chat client for the bot with the given id.
type Factory func(id int) provider.Interface

// Metrics aggregates the counters of every bot in the fleet.
type Metrics struct {
	Bots            int           `json:"total_bots"`
	Running         int           `json:"running_bots"`
	Total           int64         `json:"total_requests"`
	Successful      int64         `json:"successful_requests"`
	Failed          int64         `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime float64       `json:"avg_response_time"`
	PerBot          []bot.Metrics `json:"bots"`
}

type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	factory Factory
	bots    map[int]*bot.Agent
	pending map[int]struct{}
	limiter *ratelimit.Limiter
}

/*
New builds an empty fleet. A positive BroadcastRate paces Broadcast to that
many submissions per second across the whole fleet.
*/
func New(cfg Config, factory Factory) *Manager {
	manager := &Manager{
		cfg:     cfg,
		factory: factory,
		bots:    make(map[int]*bot.Agent),
		pending: make(map[int]struct{}),
	}

	if cfg.BroadcastRate > 0 {
		limiter, err := ratelimit.PerSecond(cfg.BroadcastRate)
		if err != nil {
			log.Warn("broadcast rate ignored", "rate", cfg.BroadcastRate, "error", err)
		}
		manager.limiter = limiter
	}

	return manager
}

/*
Spawn health-checks a new bot, starts it and adds it to the fleet. A bot
that fails its health check is never started. The id is reserved while the
check runs, so concurrent Spawns of one id start a single bot.
*/
func (manager *Manager) Spawn(ctx context.Context, id int) error {
	if !manager.reserve(id) {
		return nil
	}
	defer manager.release(id)

	agent := bot.New(id, manager.factory(id), manager.cfg.Bot)

	if err := agent.HealthCheck(ctx); err != nil {
		log.Warn("bot failed health check", "id", id, "error", err)
		return err
	}

	agent.Start(ctx)

	if !agent.Running() {
		return errors.ErrBotStopped.WithMessagef("bot %d did not start", id)
	}

	manager.mu.Lock()
	manager.bots[id] = agent
	size := len(manager.bots)
	manager.mu.Unlock()

	metrics.SetFleetSize(size)
	log.Info("bot spawned", "id", id, "fleet", size)

	return nil
}

func (manager *Manager) reserve(id int) bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if _, exists := manager.bots[id]; exists {
		return false
	}

	if _, busy := manager.pending[id]; busy {
		return false
	}

	manager.pending[id] = struct{}{}
	return true
}

func (manager *Manager) release(id int) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	delete(manager.pending, id)
}

/*
SpawnStaggered spawns count bots with ids 0..count-1, pausing SpawnStagger
between them, and returns how many came up.
*/
func (manager *Manager) SpawnStaggered(ctx context.Context, count int) int {
	var spawned int

	for id := 0; id < count; id++ {
		if id > 0 && manager.cfg.SpawnStagger > 0 {
			select {
			case <-ctx.Done():
				return spawned
			case <-time.After(manager.cfg.SpawnStagger):
			}
		}

		if err := manager.Spawn(ctx, id); err != nil {
			continue
		}

		spawned++
	}

	log.Info("fleet spawned", "requested", count, "spawned", spawned)
	return spawned
}

func (manager *Manager) snapshot() []*bot.Agent {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	out := make([]*bot.Agent, 0, len(manager.bots))
	for _, agent := range manager.bots {
		out = append(out, agent)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})

	return out
}

func (manager *Manager) Size() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.bots)
}

/*
Broadcast submits prompt to every bot in id order. Failed submissions are
collected and returned together; the remaining bots still get the prompt.
*/
func (manager *Manager) Broadcast(ctx context.Context, prompt string) error {
	bots := manager.snapshot()

	if len(bots) == 0 {
		return errors.ErrNoBots.WithMessagef("broadcast with no bots spawned")
	}

	var failures []any

	for _, agent := range bots {
		if manager.limiter != nil {
			if err := manager.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		if _, err := agent.Submit(ctx, prompt); err != nil {
			log.Warn("broadcast submit failed", "id", agent.ID(), "error", err)
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return errors.NewError(failures...)
	}

	log.Debug("prompt broadcast", "bots", len(bots))
	return nil
}

// Collect drains every bot's results, ordered by bot id.
func (manager *Manager) Collect() []bot.Response {
	var out []bot.Response

	for _, agent := range manager.snapshot() {
		out = append(out, agent.Results()...)
	}

	return out
}

/*
CollectWithin polls Collect until expected responses arrived, timeout passed
or ctx ended, and returns whatever was gathered.
*/
func (manager *Manager) CollectWithin(ctx context.Context, expected int, timeout time.Duration) []bot.Response {
	if timeout <= 0 {
		timeout = manager.cfg.CollectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	out := manager.Collect()

	for len(out) < expected {
		select {
		case <-ctx.Done():
			log.Warn("collect timed out", "expected", expected, "received", len(out))
			return out
		case <-ticker.C:
			out = append(out, manager.Collect()...)
		}
	}

	return out
}

func (manager *Manager) Metrics() Metrics {
	var (
		out     Metrics
		latency float64
	)

	for _, agent := range manager.snapshot() {
		m := agent.Metrics()

		out.Bots++
		if m.Running {
			out.Running++
		}

		out.Total += m.Total
		out.Successful += m.Successful
		out.Failed += m.Failed
		latency += m.AvgResponseTime * float64(m.Total)
		out.PerBot = append(out.PerBot, m)
	}

	if out.Total > 0 {
		out.SuccessRate = float64(out.Successful) / float64(out.Total) * 100
		out.AvgResponseTime = latency / float64(out.Total)
	}

	return out
}

/*
Shutdown stops every bot in parallel and empties the fleet. Bots that fail
to stop in time are reported together.
*/
func (manager *Manager) Shutdown() error {
	manager.mu.Lock()
	bots := manager.bots
	manager.bots = make(map[int]*bot.Agent)
	manager.mu.Unlock()

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []any
	)

	for _, agent := range bots {
		g.Go(func() error {
			err := agent.Stop()
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			return err
		})
	}

	err := g.Wait()
	metrics.SetFleetSize(0)

	log.Info("fleet shut down", "bots", len(bots), "failures", len(failures))

	if err != nil {
		return errors.NewError(failures...)
	}

	return nil
}
