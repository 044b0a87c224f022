package fleet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/theapemachine/gridswarm/pkg/bot"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

const (
	RoundRobin  = "round_robin"
	LeastLoaded = "least_loaded"
)

// Task priorities. Higher values are dispatched first.
const (
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityUrgent = 3
)

// Assignment records which bot took a routed task.
type Assignment struct {
	TaskID    string  `json:"task_id"`
	BotID     int     `json:"bot_id"`
	BotTaskID string  `json:"bot_task_id"`
	Priority  int     `json:"priority"`
	Waited    float64 `json:"queued_seconds"`
}

type QueueStatus struct {
	Total  int `json:"total_queued"`
	Normal int `json:"priority_1_queued"`
	High   int `json:"priority_2_queued"`
	Urgent int `json:"priority_3_queued"`
	Bots   int `json:"registered_bots"`
}

type queued struct {
	id        string
	prompt    string
	priority  int
	submitted time.Time
}

/*
Router hands individual prompts to single bots of a fleet, unlike Broadcast
which gives every bot the same prompt. Queued tasks leave in priority order,
first in first out within a priority.
*/
type Router struct {
	fleet    *Manager
	strategy string

	mu     sync.Mutex
	queues [PriorityUrgent + 1][]queued
	next   int
}

// NewRouter routes over fleet. Unknown strategies fall back to round robin.
func NewRouter(fleet *Manager, strategy string) *Router {
	strategy = strings.ToLower(strategy)

	if strategy != LeastLoaded {
		strategy = RoundRobin
	}

	return &Router{fleet: fleet, strategy: strategy}
}

func (router *Router) Strategy() string {
	return router.strategy
}

// Submit queues a prompt and returns its task id.
func (router *Router) Submit(prompt string, priority int) (string, error) {
	if priority < PriorityNormal || priority > PriorityUrgent {
		return "", errors.ErrInvalidConfig.WithMessagef(
			"priority %d outside %d..%d", priority, PriorityNormal, PriorityUrgent,
		)
	}

	task := queued{
		id:        uuid.NewString(),
		prompt:    prompt,
		priority:  priority,
		submitted: time.Now(),
	}

	router.mu.Lock()
	router.queues[priority] = append(router.queues[priority], task)
	router.mu.Unlock()

	log.Debug("task queued", "task", task.id, "priority", priority)
	return task.id, nil
}

/*
Dispatch hands up to limit queued tasks to bots, all of them when limit is
not positive. A task whose submission fails goes back to the head of its
queue and dispatching stops there.
*/
func (router *Router) Dispatch(ctx context.Context, limit int) ([]Assignment, error) {
	var out []Assignment

	for limit <= 0 || len(out) < limit {
		task, ok := router.pop()
		if !ok {
			break
		}

		assignment, err := router.route(ctx, task)
		if err != nil {
			router.requeue(task)
			return out, err
		}

		out = append(out, assignment)
	}

	return out, nil
}

// Route sends one prompt straight to a bot, skipping the queue.
func (router *Router) Route(ctx context.Context, prompt string) (Assignment, error) {
	return router.route(ctx, queued{
		id:        uuid.NewString(),
		prompt:    prompt,
		priority:  PriorityNormal,
		submitted: time.Now(),
	})
}

func (router *Router) route(ctx context.Context, task queued) (Assignment, error) {
	agent, err := router.pick()
	if err != nil {
		return Assignment{}, err
	}

	botTaskID, err := agent.Submit(ctx, task.prompt)
	if err != nil {
		log.Warn("routed submit failed", "task", task.id, "bot", agent.ID(), "error", err)
		return Assignment{}, err
	}

	log.Debug("task routed", "task", task.id, "bot", agent.ID(), "strategy", router.strategy)

	return Assignment{
		TaskID:    task.id,
		BotID:     agent.ID(),
		BotTaskID: botTaskID,
		Priority:  task.priority,
		Waited:    time.Since(task.submitted).Seconds(),
	}, nil
}

func (router *Router) pick() (*bot.Agent, error) {
	bots := router.fleet.snapshot()

	if len(bots) == 0 {
		return nil, errors.ErrNoBots.WithMessagef("no bots to route to")
	}

	if router.strategy == LeastLoaded {
		selected := bots[0]

		for _, agent := range bots[1:] {
			if agent.QueueDepth() < selected.QueueDepth() {
				selected = agent
			}
		}

		return selected, nil
	}

	router.mu.Lock()
	index := router.next % len(bots)
	router.next++
	router.mu.Unlock()

	return bots[index], nil
}

func (router *Router) pop() (queued, bool) {
	router.mu.Lock()
	defer router.mu.Unlock()

	for priority := PriorityUrgent; priority >= PriorityNormal; priority-- {
		if queue := router.queues[priority]; len(queue) > 0 {
			router.queues[priority] = queue[1:]
			return queue[0], true
		}
	}

	return queued{}, false
}

func (router *Router) requeue(task queued) {
	router.mu.Lock()
	defer router.mu.Unlock()
	router.queues[task.priority] = append([]queued{task}, router.queues[task.priority]...)
}

func (router *Router) QueueStatus() QueueStatus {
	router.mu.Lock()
	defer router.mu.Unlock()

	status := QueueStatus{
		Normal: len(router.queues[PriorityNormal]),
		High:   len(router.queues[PriorityHigh]),
		Urgent: len(router.queues[PriorityUrgent]),
		Bots:   router.fleet.Size(),
	}

	status.Total = status.Normal + status.High + status.Urgent
	return status
}
