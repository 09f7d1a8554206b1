// Package objectstore provides a reference implementation of the queue
// package's Executor interface. It is explicitly a collaborator, not core:
// it runs a validated read-only query against Postgres and streams the
// result set as newline-delimited JSON rows to an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds connection settings for the S3-compatible sink.
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Region       string
	UsePathStyle bool
}

// Executor runs queries against a *sql.DB and streams rows to S3 as NDJSON.
// It implements queue.Executor without importing it, to keep the queue
// package free of any dependency on the sink technology.
type Executor struct {
	db     *sql.DB
	client *s3.Client
}

// NewExecutor builds an Executor backed by the given query connection and
// S3-compatible object store.
func NewExecutor(ctx context.Context, db *sql.DB, cfg Config) (*Executor, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("jobq: load aws config: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	endpointURL := fmt.Sprintf("%s://%s", scheme, endpoint)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Executor{db: db, client: client}, nil
}

// ExecuteReadonlyToBlob implements the executor boundary consumed by the
// runner: it runs querySQL read-only, marshals each row as an NDJSON line,
// and uploads the accumulated buffer to account (bucket) at
// container/blobPath. Zero-row results still upload an empty object,
// matching the runner's "empty result set is success" contract.
func (e *Executor) ExecuteReadonlyToBlob(ctx context.Context, querySQL, account, container, blobPath string, deadline time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	tx, err := e.db.BeginTx(runCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("jobq: begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(runCtx, querySQL)
	if err != nil {
		return fmt.Errorf("jobq: execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("jobq: read columns: %w", err)
	}

	var buf bytes.Buffer
	values := make([]interface{}, len(cols))
	scanDest := make([]interface{}, len(cols))
	for i := range values {
		scanDest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return fmt.Errorf("jobq: scan row: %w", err)
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			record[col] = normalize(values[i])
		}
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("jobq: marshal row: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("jobq: row iteration: %w", err)
	}

	key := strings.TrimPrefix(fmt.Sprintf("%s/%s", strings.Trim(container, "/"), blobPath), "/")
	_, err = e.client.PutObject(runCtx, &s3.PutObjectInput{
		Bucket:      aws.String(account),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("jobq: upload blob: %w", err)
	}
	return nil
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
