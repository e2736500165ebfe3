package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "deriflow/config"
	"deriflow/logger"
	"deriflow/ringbuf"
)

// Sink is the persistence contract the writer drives. Implementations own
// their connection handling and retries below Commit; the writer only
// retries the Commit call itself.
type Sink interface {
	// EnsureSchema prepares the destination for a table before the
	// first commit.
	EnsureSchema(ctx context.Context, table string, columns []string) error
	// Commit persists one full batch.
	Commit(ctx context.Context, batch ringbuf.Batch) error
}

// memFileWriter keeps an encoded parquet file in memory so it can be
// uploaded in one PutObject call.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// ParquetS3Sink encodes batches as parquet in memory and uploads them to
// s3://bucket/prefix/table/date/batch-id.parquet. The object store is
// schemaless, so EnsureSchema records each table's column list once as a
// sidecar JSON object instead of creating anything.
type ParquetS3Sink struct {
	bucket      string
	prefix      string
	compression parquet.CompressionCodec
	client      *s3.Client
	log         *logger.Log
}

func NewParquetS3Sink(cfg *appconfig.Config) (*ParquetS3Sink, error) {
	s3cfg := cfg.Storage.S3
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &ParquetS3Sink{
		bucket:      s3cfg.Bucket,
		prefix:      s3cfg.Prefix,
		compression: compressionCodec(cfg.Storage.Parquet.Compression),
		client:      s3.NewFromConfig(awsCfg),
		log:         logger.GetLogger(),
	}, nil
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	case "none":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

// EnsureSchema uploads the table's column list as a sidecar object so
// downstream readers can interpret the parquet files without the process.
func (s *ParquetS3Sink) EnsureSchema(ctx context.Context, table string, columns []string) error {
	body, err := json.MarshalIndent(map[string]interface{}{
		"table":   table,
		"columns": columns,
	}, "", "  ")
	if err != nil {
		return err
	}
	key := path.Join(s.prefix, table, "_schema.json")
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put schema %s: %w", key, err)
	}
	s.log.WithComponent("s3_sink").WithFields(logger.Fields{"table": table, "s3_key": key}).Info("schema recorded")
	return nil
}

// Commit encodes the batch to parquet and uploads it.
func (s *ParquetS3Sink) Commit(ctx context.Context, batch ringbuf.Batch) error {
	data, err := s.encode(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}

	key := s.objectKey(batch)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put batch %s: %w", key, err)
	}

	s.log.WithComponent("s3_sink").WithFields(logger.Fields{
		"table":   batch.Table,
		"s3_key":  key,
		"records": len(batch.Rows),
		"bytes":   len(data),
	}).Info("batch uploaded")
	return nil
}

// encode writes the batch through parquet-go's CSV-schema writer, which
// takes the column list at runtime instead of a struct type.
func (s *ParquetS3Sink) encode(batch ringbuf.Batch) ([]byte, error) {
	md := make([]string, len(batch.Columns))
	for i, col := range batch.Columns {
		md[i] = fmt.Sprintf("name=%s, type=DOUBLE", col)
	}

	mw := newMemFileWriter()
	pw, err := parquetwriter.NewCSVWriter(md, mw, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = s.compression

	row := make([]interface{}, len(batch.Columns))
	for _, record := range batch.Rows {
		for i, v := range record {
			row[i] = v
		}
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

func (s *ParquetS3Sink) objectKey(batch ringbuf.Batch) string {
	day := time.Now().UTC().Format("2006-01-02")
	return path.Join(s.prefix, batch.Table, day, fmt.Sprintf("%s.parquet", batch.ID))
}
