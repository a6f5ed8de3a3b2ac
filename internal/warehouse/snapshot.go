package warehouse

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Metric is one single-row warehouse read with its job id.
type Metric struct {
	Row   map[string]any `json:"row"`
	JobID string         `json:"job_id"`
}

// Snapshot is the joined output of the command-center metric fan-out.
type Snapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Metrics     map[string]Metric `json:"metrics"`
}

// SnapshotService reads the command-center metric set. The six reads
// are independent, so they are fired concurrently and joined.
type SnapshotService struct {
	compiler *Compiler
	runner   Runner
}

func NewSnapshotService(compiler *Compiler, runner Runner) *SnapshotService {
	return &SnapshotService{compiler: compiler, runner: runner}
}

type metricQuery struct {
	name  string
	table string
	sql   string // format string receiving the qualified table
}

// The metric set mirrors the executive data plane: latest overview and
// run, open tickets, counsel queue, red-team gaps and the latest
// embedding forensic inspection.
var snapshotQueries = []metricQuery{
	{"overview", "executive_data_plane_overview",
		"SELECT * FROM %s LIMIT 1"},
	{"complete_picture_latest", "maroon_complete_picture_runs",
		"SELECT run_id, generated_at, systems_total, systems_after_compression, structural_review_count, invention_candidates_count, artifact_count, alignment_score FROM %s ORDER BY generated_at DESC LIMIT 1"},
	{"tickets", "maroon_execution_tickets",
		"SELECT COUNT(*) AS tickets_open, SUM(CASE WHEN priority = 'P1' THEN 1 ELSE 0 END) AS p1_open FROM %s WHERE status = 'open'"},
	{"counsel_queue", "maroon_counsel_ip_queue",
		"SELECT COUNT(*) AS counsel_open, SUM(CASE WHEN queue_status = 'evidence_bundle_required' THEN 1 ELSE 0 END) AS evidence_bundle_required FROM %s WHERE queue_status IN ('open', 'evidence_bundle_required')"},
	{"redteam", "maroon_redteam_gap_register",
		"SELECT COUNT(*) AS open_gaps, SUM(CASE WHEN severity = 'P1' THEN 1 ELSE 0 END) AS p1_gaps, SUM(CASE WHEN severity = 'P2' THEN 1 ELSE 0 END) AS p2_gaps FROM %s"},
	{"forensic_latest", "maroon_db_embedding_forensic_inspection",
		"SELECT generated_at, health_status, ARRAY_LENGTH(health_flags) AS health_flag_count FROM %s ORDER BY generated_at DESC LIMIT 1"},
}

// Read fans the metric reads out in parallel and joins them before
// returning. Any single failure fails the snapshot.
func (s *SnapshotService) Read(ctx context.Context) (*Snapshot, error) {
	g, gctx := errgroup.WithContext(ctx)
	metrics := make([]Metric, len(snapshotQueries))

	for i, mq := range snapshotQueries {
		qualified, aerr := s.compiler.QualifiedTable(mq.table)
		if aerr != nil {
			return nil, fmt.Errorf("snapshot table %s: %s", mq.table, aerr.Detail)
		}
		sql := fmt.Sprintf(mq.sql, qualified)
		i := i
		g.Go(func() error {
			result, err := s.runner.RunQuery(gctx, sql, nil)
			if err != nil {
				return fmt.Errorf("snapshot metric %s: %w", snapshotQueries[i].name, err)
			}
			m := Metric{JobID: result.JobID, Row: map[string]any{}}
			if len(result.Rows) > 0 {
				m.Row = result.Rows[0]
			}
			metrics[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Snapshot{
		GeneratedAt: time.Now().UTC(),
		Metrics:     make(map[string]Metric, len(snapshotQueries)),
	}
	for i, mq := range snapshotQueries {
		out.Metrics[mq.name] = metrics[i]
	}
	return out, nil
}
