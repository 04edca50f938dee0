package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/dossierpackager/internal/services"
)

type countingTriggerer struct {
	calls atomic.Int32
}

func (c *countingTriggerer) Trigger(context.Context) (services.TriggerResult, error) {
	c.calls.Add(1)
	return services.TriggerResult{Outcome: services.TriggerNothingToDo}, nil
}

func TestNextDefaultPattern(t *testing.T) {
	from := time.Date(2024, 6, 1, 10, 5, 30, 0, time.UTC)

	next, err := Next(services.DefaultCronPattern, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 12, 0, 0, time.UTC), next)

	after, err := Next(services.DefaultCronPattern, next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 24, 0, 0, time.UTC), after)
}

func TestStartRejectsInvalidPattern(t *testing.T) {
	_, err := Start(context.Background(), "every twelve minutes", &countingTriggerer{})
	assert.Error(t, err)

	_, err = Next("* * *", time.Now())
	assert.Error(t, err)
}

func TestStartFiresTrigger(t *testing.T) {
	trig := &countingTriggerer{}
	s, err := Start(context.Background(), "* * * * * *", trig)
	require.NoError(t, err)
	defer s.Stop()

	assert.Eventually(t, func() bool { return trig.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
