package warehouse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maroonops/signal-console/internal/policy"
)

type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	rows    map[string][]map[string]any // keyed by table name substring
	err     error
}

func (f *fakeRunner) RunQuery(_ context.Context, sql string, _ map[string]any) (*Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for table, rows := range f.rows {
		if strings.Contains(sql, table) {
			return &Result{Rows: rows, JobID: "job-" + table}, nil
		}
	}
	return &Result{JobID: "job-empty"}, nil
}

func snapshotCompiler(t *testing.T) *Compiler {
	t.Helper()
	pol := policy.New([]string{
		"executive_data_plane_overview",
		"maroon_complete_picture_runs",
		"maroon_execution_tickets",
		"maroon_counsel_ip_queue",
		"maroon_redteam_gap_register",
		"maroon_db_embedding_forensic_inspection",
	}, "engineer")
	c, err := NewCompiler("maroon-ops-prod", "maroon_ops", pol)
	require.NoError(t, err)
	return c
}

func TestSnapshotReadJoinsAllMetrics(t *testing.T) {
	runner := &fakeRunner{rows: map[string][]map[string]any{
		"executive_data_plane_overview": {{"systems_total": 42}},
		"maroon_execution_tickets":      {{"tickets_open": 7, "p1_open": 2}},
	}}
	svc := NewSnapshotService(snapshotCompiler(t), runner)

	snap, err := svc.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Metrics, 6)
	assert.Equal(t, 42, snap.Metrics["overview"].Row["systems_total"])
	assert.Equal(t, 7, snap.Metrics["tickets"].Row["tickets_open"])
	assert.NotNil(t, snap.Metrics["redteam"].Row, "empty results still produce a row map")
	assert.Len(t, runner.queries, 6)
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestSnapshotReadFailsOnAnyMetricError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("quota exceeded")}

	_, err := NewSnapshotService(snapshotCompiler(t), runner).Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot metric")
}
