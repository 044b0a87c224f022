package fleet

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/provider"
)

// busyProvider passes health checks and holds every other prompt until the
// request context ends.
type busyProvider struct{}

func (busyProvider) Name() string {
	return "busy"
}

func (busyProvider) Chat(ctx context.Context, request provider.Request) (string, error) {
	if request.Prompt == "test" {
		return "ok", nil
	}

	<-ctx.Done()
	return "", ctx.Err()
}

func TestRouterRoundRobin(t *testing.T) {
	manager := New(testConfig(), echoFactory(&atomic.Int64{}, nil))
	defer manager.Shutdown()

	require.Equal(t, 3, manager.SpawnStaggered(context.Background(), 3))

	router := NewRouter(manager, "ROUND_ROBIN")
	assert.Equal(t, RoundRobin, router.Strategy())

	var got []int

	for i := 0; i < 4; i++ {
		assignment, err := router.Route(context.Background(), "spin")
		require.NoError(t, err)
		assert.NotEmpty(t, assignment.BotTaskID)
		got = append(got, assignment.BotID)
	}

	assert.Equal(t, []int{0, 1, 2, 0}, got)
	assert.Len(t, manager.CollectWithin(context.Background(), 4, 2*time.Second), 4)
}

func TestRouterLeastLoaded(t *testing.T) {
	manager := New(testConfig(), func(int) provider.Interface { return busyProvider{} })
	defer manager.Shutdown()

	require.Equal(t, 2, manager.SpawnStaggered(context.Background(), 2))

	first := manager.snapshot()[0]
	for i := 0; i < 3; i++ {
		_, err := first.Submit(context.Background(), "backlog")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return first.QueueDepth() == 2
	}, time.Second, 5*time.Millisecond)

	router := NewRouter(manager, LeastLoaded)

	assignment, err := router.Route(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, assignment.BotID, "the idle bot takes the task")
}

func TestRouterPriorities(t *testing.T) {
	manager := New(testConfig(), echoFactory(&atomic.Int64{}, nil))
	defer manager.Shutdown()

	require.Equal(t, 1, manager.SpawnStaggered(context.Background(), 1))

	router := NewRouter(manager, "fastest")
	assert.Equal(t, RoundRobin, router.Strategy(), "unknown strategies fall back")

	normal, err := router.Submit("a", PriorityNormal)
	require.NoError(t, err)
	urgent, err := router.Submit("b", PriorityUrgent)
	require.NoError(t, err)
	high, err := router.Submit("c", PriorityHigh)
	require.NoError(t, err)
	later, err := router.Submit("d", PriorityNormal)
	require.NoError(t, err)

	assert.Equal(t, QueueStatus{Total: 4, Normal: 2, High: 1, Urgent: 1, Bots: 1}, router.QueueStatus())

	first, err := router.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, urgent, first[0].TaskID)

	rest, err := router.Dispatch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)

	assert.Equal(t, []string{high, normal, later}, []string{rest[0].TaskID, rest[1].TaskID, rest[2].TaskID})
	assert.Equal(t, PriorityHigh, rest[0].Priority)
	assert.Equal(t, 0, router.QueueStatus().Total)

	responses := manager.CollectWithin(context.Background(), 4, 2*time.Second)
	require.Len(t, responses, 4)
	assert.Equal(t, "bot 0: b", responses[0].Response)
	assert.Equal(t, "bot 0: d", responses[3].Response)
}

func TestRouterWithoutBots(t *testing.T) {
	router := NewRouter(New(testConfig(), echoFactory(&atomic.Int64{}, nil)), RoundRobin)

	_, err := router.Submit("lost", 0)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	id, err := router.Submit("waiting", PriorityHigh)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assignments, err := router.Dispatch(context.Background(), 0)
	assert.ErrorIs(t, err, errors.ErrNoBots)
	assert.Empty(t, assignments)
	assert.Equal(t, 1, router.QueueStatus().High, "an undelivered task stays queued")

	_, err = router.Route(context.Background(), "direct")
	assert.ErrorIs(t, err, errors.ErrNoBots)
}
