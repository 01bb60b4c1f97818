package component

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	*r.log = append(*r.log, "start "+r.name)
	return nil
}

func (r *recorder) Stop(context.Context) error {
	*r.log = append(*r.log, "stop "+r.name)
	return r.stopErr
}

func TestOrchestratorOrder(t *testing.T) {
	var log []string
	o := NewOrchestrator()
	o.Register(&recorder{name: "a", log: &log})
	o.Register(&recorder{name: "b", log: &log})

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestOrchestratorRollsBackOnStartFailure(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	o := NewOrchestrator()
	o.Register(&recorder{name: "a", log: &log})
	o.Register(&recorder{name: "b", log: &log, startErr: boom})
	o.Register(&recorder{name: "c", log: &log})

	err := o.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "stop a"}, log)
}

func TestOrchestratorStopCollectsErrors(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	o := NewOrchestrator()
	o.Register(&recorder{name: "a", log: &log, stopErr: boom})
	o.Register(&recorder{name: "b", log: &log})

	require.NoError(t, o.Start(context.Background()))
	err := o.Stop(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestBaseGoWaitsOnStop(t *testing.T) {
	b := NewBase("test")
	b.StartContext(context.Background())
	assert.True(t, b.Running())

	done := make(chan struct{})
	b.Go(func() {
		<-b.Ctx.Done()
		close(done)
	})
	b.StopContext()

	select {
	case <-done:
	default:
		t.Fatal("goroutine not finished after StopContext")
	}
	assert.False(t, b.Running())
}
