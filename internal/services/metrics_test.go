package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { RegisterMetrics(reg) })
	assert.Panics(t, func() { RegisterMetrics(reg) })
}

func TestAttempt_UnknownCrimeIDsShareOneSeries(t *testing.T) {
	cs := newTestCrimeService(t, newMemStore(testCharacter("c1")), fixedRoller{float: 0.5}, &recordingNotifier{})

	attemptsBefore := testutil.CollectAndCount(CrimeAttempts)
	durationBefore := testutil.CollectAndCount(CrimeDuration)
	rejectedBefore := testutil.ToFloat64(CrimeAttempts.WithLabelValues(UnknownCrimeLabel, ResultRejected))

	for i := range 200 {
		_, err := cs.Attempt(context.Background(), "c1", fmt.Sprintf("bogus-%d", i))
		require.ErrorIs(t, err, ErrCrimeNotFound)
	}

	assert.LessOrEqual(t, testutil.CollectAndCount(CrimeAttempts)-attemptsBefore, 1)
	assert.LessOrEqual(t, testutil.CollectAndCount(CrimeDuration)-durationBefore, 1)
	assert.Equal(t, rejectedBefore+200,
		testutil.ToFloat64(CrimeAttempts.WithLabelValues(UnknownCrimeLabel, ResultRejected)))
}

func TestAttempt_KnownCrimeKeepsItsLabel(t *testing.T) {
	char := testCharacter("c1")
	char.Nerve = 3
	cs := newTestCrimeService(t, newMemStore(char), fixedRoller{float: 0.5}, &recordingNotifier{})

	before := testutil.ToFloat64(CrimeAttempts.WithLabelValues("1", ResultSuccess))
	_, err := cs.Attempt(context.Background(), "c1", "1")
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(CrimeAttempts.WithLabelValues("1", ResultSuccess)))
}
