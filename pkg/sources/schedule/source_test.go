package schedule

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestConfigure_RejectsInvalidExpression(t *testing.T) {
	source := NewSource(testLogger())

	err := source.Configure([]*models.Workflow{
		{
			Name: "nightly",
			Triggers: []models.TriggerClause{
				{Schedule: "not a cron expression"},
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nightly")
}

func TestConfigure_CountsOnlyScheduledClauses(t *testing.T) {
	source := NewSource(testLogger())

	err := source.Configure([]*models.Workflow{
		{
			Name: "ci",
			Triggers: []models.TriggerClause{
				{Kind: models.EventKindPush},
				{Schedule: "0 3 * * *"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, source.entries)
}

func TestFire_EmitsDispatchEvent(t *testing.T) {
	source := NewSource(testLogger())

	var (
		mu     sync.Mutex
		events []models.Event
	)

	source.callback = func(_ context.Context, event models.Event) {
		mu.Lock()
		defer mu.Unlock()

		events = append(events, event)
	}

	source.fire("nightly", "0 3 * * *")

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, models.EventKindDispatch, event.Kind)
	assert.Equal(t, "schedule", event.Actor)
	assert.Equal(t, "0 3 * * *", event.Payload["schedule"])
	assert.Equal(t, "nightly", event.Payload["workflow"])
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.ReceivedAt.IsZero())
}

func TestStartStop(t *testing.T) {
	source := NewSource(testLogger())

	require.NoError(t, source.Configure([]*models.Workflow{
		{
			Name:     "nightly",
			Triggers: []models.TriggerClause{{Schedule: "@every 1s"}},
		},
	}))

	fired := make(chan models.Event, 16)

	source.Start(func(_ context.Context, event models.Event) {
		select {
		case fired <- event:
		default:
		}
	})

	select {
	case event := <-fired:
		assert.Equal(t, "nightly", event.Payload["workflow"])
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, source.Stop(ctx))
	// Stopping twice is a no-op.
	require.NoError(t, source.Stop(ctx))
}
