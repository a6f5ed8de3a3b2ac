package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Result holds the rows and job identifier of one warehouse read.
type Result struct {
	Rows  []map[string]any `json:"rows"`
	JobID string           `json:"job_id"`
}

// Runner submits a parameterized query to the analytical warehouse.
type Runner interface {
	RunQuery(ctx context.Context, sql string, params map[string]any) (*Result, error)
}

// BigQueryRunner executes queries with a fixed location and a
// maximum-bytes-billed ceiling. The ceiling is always set; the engine
// refuses unbounded scans rather than running them.
type BigQueryRunner struct {
	client         *bigquery.Client
	location       string
	maxBytesBilled int64
}

func NewBigQueryRunner(ctx context.Context, project, location string, maxBytesBilled int64) (*BigQueryRunner, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("initializing warehouse client: %w", err)
	}
	return &BigQueryRunner{
		client:         client,
		location:       location,
		maxBytesBilled: maxBytesBilled,
	}, nil
}

func (r *BigQueryRunner) Close() error {
	return r.client.Close()
}

func (r *BigQueryRunner) RunQuery(ctx context.Context, sql string, params map[string]any) (*Result, error) {
	q := r.client.Query(sql)
	q.Location = r.location
	q.MaxBytesBilled = r.maxBytesBilled
	q.UseLegacySQL = false
	for name, value := range params {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: name, Value: value})
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting warehouse query: %w", err)
	}
	it, err := job.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading warehouse query results: %w", err)
	}

	result := &Result{JobID: job.ID()}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating warehouse rows: %w", err)
		}
		converted := make(map[string]any, len(row))
		for k, v := range row {
			converted[k] = v
		}
		result.Rows = append(result.Rows, converted)
	}
	return result, nil
}
