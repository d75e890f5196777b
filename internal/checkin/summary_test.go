package checkin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	results := []Result{
		{AccountName: "A", Status: StateSucceeded, Timestamp: started.Add(2 * time.Second)},
		{AccountName: "B", Status: StateFailed, Kind: KindUnauthorized, Timestamp: started.Add(5 * time.Second)},
		{AccountName: "C", Status: StateSucceeded, AlreadyCheckedIn: true, Timestamp: started.Add(3 * time.Second)},
	}

	s := Aggregate("run-1", started, results)
	require.Equal(t, "run-1", s.RunID)
	require.Equal(t, 3, s.Total)
	require.Equal(t, 2, s.Succeeded)
	require.Equal(t, 1, s.Failed)
	require.Equal(t, OverallSuccess, s.Overall())
	require.Equal(t, 0, s.ExitCode())
	require.Equal(t, 5*time.Second, s.Duration())
	require.Equal(t, []string{"A", "B", "C"}, names(s.Results))
	require.Equal(t, []string{"B"}, names(s.Failures()))
}

func TestAggregate_AllFailed(t *testing.T) {
	t.Parallel()

	s := Aggregate("run-2", time.Now(), []Result{
		{AccountName: "A", Status: StateFailed, Kind: KindTimeout},
		{AccountName: "B", Status: StateFailed, Kind: KindInvalidCredentials},
	})
	require.Equal(t, OverallFailure, s.Overall())
	require.Equal(t, 1, s.ExitCode())
}

func TestAggregate_Empty(t *testing.T) {
	t.Parallel()

	s := Aggregate("run-3", time.Now(), nil)
	require.Equal(t, 0, s.Total)
	require.Equal(t, OverallFailure, s.Overall())
	require.Empty(t, s.Failures())
}

func names(rs []Result) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.AccountName)
	}
	return out
}
