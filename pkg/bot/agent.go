/*
Package bot wraps a chat provider in a long-lived worker that takes prompts
from a bounded queue, answers them one at a time and keeps the responses
until they are collected.
*/
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/metrics"
	"github.com/theapemachine/gridswarm/pkg/provider"
)

type Config struct {
	Model          string           `mapstructure:"model"`
	System         string           `mapstructure:"system"`
	Heartbeat      time.Duration    `mapstructure:"heartbeat"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
	StopTimeout    time.Duration    `mapstructure:"stop_timeout"`
	QueueSize      int              `mapstructure:"queue_size"`
	Options        provider.Options `mapstructure:"options"`
}

func DefaultConfig() Config {
	return Config{
		Model:          "gemma3:270m",
		Heartbeat:      100 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		StopTimeout:    5 * time.Second,
		QueueSize:      16,
		Options:        provider.DefaultOptions(),
	}
}

// Task is one queued prompt.
type Task struct {
	ID        string
	Prompt    string
	Submitted time.Time
}

// Response is the outcome of one task. Failed calls carry Error instead of
// Response.
type Response struct {
	BotID        int       `json:"bot_id"`
	TaskID       string    `json:"task_id"`
	Success      bool      `json:"success"`
	Response     string    `json:"response,omitempty"`
	ResponseTime float64   `json:"response_time"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type Metrics struct {
	BotID           int     `json:"bot_id"`
	Provider        string  `json:"provider"`
	Total           int64   `json:"total_requests"`
	Successful      int64   `json:"successful_requests"`
	Failed          int64   `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	QueueDepth      int     `json:"queue_size"`
	HeartbeatRate   float64 `json:"heartbeats_per_second"`
	AvgResponseTime float64 `json:"avg_response_time"`
	Running         bool    `json:"running"`
}

/*
Agent is one bot. Submit and Results may be called from any goroutine; the
worker started by Start is the only goroutine that talks to the provider.
*/
type Agent struct {
	id     int
	client provider.Interface
	cfg    Config

	tasks chan Task

	resultsMu sync.Mutex
	results   []Response

	metrics *metrics.RequestMetrics

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	quit    chan struct{}
	done    chan struct{}
}

func New(id int, client provider.Interface, cfg Config) *Agent {
	defaults := DefaultConfig()

	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaults.Heartbeat
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}

	return &Agent{
		id:      id,
		client:  client,
		cfg:     cfg,
		tasks:   make(chan Task, cfg.QueueSize),
		metrics: metrics.NewRequestMetrics(),
	}
}

func (agent *Agent) ID() int {
	return agent.id
}

// Start launches the worker. Calling Start on a running agent does nothing.
func (agent *Agent) Start(ctx context.Context) {
	agent.stateMu.Lock()
	defer agent.stateMu.Unlock()

	if agent.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)

	agent.cancel = cancel
	agent.quit = make(chan struct{})
	agent.done = make(chan struct{})
	agent.running = true
	agent.metrics.Reset()

	go agent.work(ctx, agent.done)

	log.Debug("bot started", "id", agent.id, "provider", agent.client.Name())
}

/*
Stop cancels the worker and waits up to StopTimeout for it to return. A task
already in flight sees its context cancelled.
*/
func (agent *Agent) Stop() error {
	agent.stateMu.Lock()

	if !agent.running {
		agent.stateMu.Unlock()
		return nil
	}

	agent.running = false
	close(agent.quit)
	agent.cancel()
	done := agent.done
	agent.stateMu.Unlock()

	select {
	case <-done:
		log.Debug("bot stopped", "id", agent.id)
		return nil
	case <-time.After(agent.cfg.StopTimeout):
		log.Warn("bot did not stop gracefully", "id", agent.id, "timeout", agent.cfg.StopTimeout)
		return fmt.Errorf("bot %d did not stop within %s", agent.id, agent.cfg.StopTimeout)
	}
}

// QueueDepth is the number of tasks waiting for the worker.
func (agent *Agent) QueueDepth() int {
	return len(agent.tasks)
}

func (agent *Agent) Running() bool {
	agent.stateMu.Lock()
	defer agent.stateMu.Unlock()
	return agent.running
}

/*
Submit queues a prompt and returns its task id. It blocks while the queue is
full, until ctx ends or the agent stops. A Submit racing Stop either lands in
the queue before quit closes or returns ErrBotStopped.
*/
func (agent *Agent) Submit(ctx context.Context, prompt string) (string, error) {
	agent.stateMu.Lock()
	running, quit, done := agent.running, agent.quit, agent.done
	agent.stateMu.Unlock()

	if !running {
		return "", errors.ErrBotStopped.WithMessagef("bot %d is not running", agent.id)
	}

	select {
	case <-quit:
		return "", errors.ErrBotStopped.WithMessagef("bot %d stopped", agent.id)
	case <-done:
		return "", errors.ErrBotStopped.WithMessagef("bot %d stopped", agent.id)
	default:
	}

	task := Task{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Submitted: time.Now(),
	}

	select {
	case agent.tasks <- task:
		return task.ID, nil
	case <-quit:
		return "", errors.ErrBotStopped.WithMessagef("bot %d stopped", agent.id)
	case <-done:
		return "", errors.ErrBotStopped.WithMessagef("bot %d stopped", agent.id)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Results drains and returns the responses gathered so far.
func (agent *Agent) Results() []Response {
	agent.resultsMu.Lock()
	defer agent.resultsMu.Unlock()

	out := agent.results
	agent.results = nil

	return out
}

func (agent *Agent) Metrics() Metrics {
	total, successful, failed := agent.metrics.Counts()

	return Metrics{
		BotID:           agent.id,
		Provider:        agent.client.Name(),
		Total:           total,
		Successful:      successful,
		Failed:          failed,
		SuccessRate:     agent.metrics.SuccessRate(),
		QueueDepth:      agent.QueueDepth(),
		HeartbeatRate:   agent.metrics.HeartbeatRate(),
		AvgResponseTime: agent.metrics.AverageResponseTime().Seconds(),
		Running:         agent.Running(),
	}
}

// HealthCheck makes one short call to confirm the provider answers.
func (agent *Agent) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, agent.cfg.RequestTimeout)
	defer cancel()

	options := agent.cfg.Options
	options.ContextLength = 100
	options.MaxTokens = 8

	_, err := agent.client.Chat(ctx, provider.Request{
		Model:   agent.cfg.Model,
		Prompt:  "test",
		Options: options,
	})

	if err != nil {
		return errors.ErrHealthCheck.WithMessagef("bot %d health check: %v", agent.id, err)
	}

	return nil
}

/*
work takes tasks until ctx ends. Every executed task is followed by one
heartbeat of idle time; an idle worker still ticks once per heartbeat.
*/
func (agent *Agent) work(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(agent.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-agent.tasks:
			agent.store(agent.execute(ctx, task))
			agent.metrics.RecordHeartbeat()

			select {
			case <-ctx.Done():
				return
			case <-time.After(agent.cfg.Heartbeat):
			}
		case <-ticker.C:
			agent.metrics.RecordHeartbeat()
		}
	}
}

func (agent *Agent) execute(ctx context.Context, task Task) Response {
	ctx, cancel := context.WithTimeout(ctx, agent.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()

	reply, err := agent.client.Chat(ctx, provider.Request{
		Model:   agent.cfg.Model,
		System:  agent.cfg.System,
		Prompt:  task.Prompt,
		Options: agent.cfg.Options,
	})

	elapsed := time.Since(start)

	agent.metrics.RecordRequest(err == nil, elapsed)
	metrics.ObserveBotRequest(agent.client.Name(), err == nil, elapsed)

	response := Response{
		BotID:        agent.id,
		TaskID:       task.ID,
		Success:      err == nil,
		ResponseTime: elapsed.Seconds(),
		Timestamp:    time.Now(),
	}

	if err != nil {
		log.Warn("bot request failed", "id", agent.id, "task", task.ID, "error", err)
		response.Error = err.Error()
		return response
	}

	response.Response = reply
	return response
}

func (agent *Agent) store(response Response) {
	agent.resultsMu.Lock()
	defer agent.resultsMu.Unlock()
	agent.results = append(agent.results, response)
}
