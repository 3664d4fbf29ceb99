package query

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlebaby/bro/internal/data"
)

func TestIssueRejectsNegativeTimeout(t *testing.T) {
	s := NewScheduler(clock.NewMock())
	_, err := s.Issue("cache", -1)
	assert.ErrorIs(t, err, ErrNoTimeout)
	assert.Zero(t, s.Outstanding())
}

func TestResolveDeliversExactlyOnce(t *testing.T) {
	s := NewScheduler(clock.NewMock())
	p, err := s.Issue("cache", time.Minute)
	require.NoError(t, err)

	assert.True(t, s.Resolve(p.ID(), Result{Status: StatusSuccess, Value: data.NewInt(1)}))
	assert.False(t, s.Resolve(p.ID(), Result{Status: StatusSuccess, Value: data.NewInt(2)}))

	res := p.Wait()
	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, data.Equal(res.Value, data.NewInt(1)))

	select {
	case extra := <-p.Result():
		t.Fatalf("second resolution leaked through: %+v", extra)
	default:
	}
}

func TestDeadlineResolvesTimeoutAndDiscardsLateResult(t *testing.T) {
	clk := clock.NewMock()
	s := NewScheduler(clk)
	p, err := s.Issue("cache", 50*time.Millisecond)
	require.NoError(t, err)

	clk.Add(100 * time.Millisecond)

	res := p.Wait()
	assert.Equal(t, StatusTimeout, res.Status)

	// the late result is discarded
	assert.False(t, s.Resolve(p.ID(), Result{Status: StatusSuccess}))
	assert.Zero(t, s.Outstanding())
}

func TestZeroTimeoutResolvesPromptly(t *testing.T) {
	s := NewScheduler(clock.New())
	p, err := s.Issue("cache", 0)
	require.NoError(t, err)

	select {
	case res := <-p.Result():
		assert.Equal(t, StatusTimeout, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("zero-timeout query hung")
	}
}

func TestCancelStoreResolvesOnlyThatStore(t *testing.T) {
	s := NewScheduler(clock.NewMock())
	p1, _ := s.Issue("cache", time.Minute)
	p2, _ := s.Issue("cache", time.Minute)
	other, _ := s.Issue("sessions", time.Minute)

	assert.Equal(t, 2, s.CancelStore("cache"))

	for _, p := range []*Pending{p1, p2} {
		res := p.Wait()
		assert.Equal(t, StatusClosed, res.Status)
		assert.ErrorIs(t, res.Err, ErrStoreClosed)
	}

	assert.Equal(t, 1, s.Outstanding())
	s.Resolve(other.ID(), Result{Status: StatusSuccess})
}
