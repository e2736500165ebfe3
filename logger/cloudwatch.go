package logger

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var cwClient *cloudwatch.Client
var cwNamespace = "Deriflow"

// Operational counters published to CloudWatch. Reset on every publish
// so the metrics report per-interval deltas.
var (
	rowsBuffered       int64
	batchesFlushed     int64
	batchesCommitted   int64
	framesDispatched   int64
	reconnects         int64
	decodeDrops        int64
	ordersTracked      int64
	heartbeatsAnswered int64
)

func IncrementRowsBuffered(n int)     { atomic.AddInt64(&rowsBuffered, int64(n)) }
func IncrementBatchesFlushed()        { atomic.AddInt64(&batchesFlushed, 1) }
func IncrementBatchesCommitted()      { atomic.AddInt64(&batchesCommitted, 1) }
func IncrementFramesDispatched()      { atomic.AddInt64(&framesDispatched, 1) }
func IncrementReconnects()            { atomic.AddInt64(&reconnects, 1) }
func IncrementDecodeDrops()           { atomic.AddInt64(&decodeDrops, 1) }
func IncrementOrdersTracked()         { atomic.AddInt64(&ordersTracked, 1) }
func IncrementHeartbeatsAnswered()    { atomic.AddInt64(&heartbeatsAnswered, 1) }

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace. If region is empty it falls back to the AWS_REGION
// environment variable. When the client cannot be created the function logs
// a warning and metric publishing remains disabled.
func InitCloudWatch(region, namespace string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cwClient = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		cwNamespace = namespace
	}

	log.WithFields(Fields{"region": region, "namespace": cwNamespace}).Info("initialized CloudWatch client")
}

// StartMetricsPublisher emits the operational counters to CloudWatch on the
// given interval until the context is cancelled. Safe to call when the
// client was never initialised; it simply returns.
func StartMetricsPublisher(ctx context.Context, interval time.Duration) {
	if cwClient == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publishCounters(ctx)
			}
		}
	}()
}

func publishCounters(ctx context.Context) {
	data := []cwtypes.MetricDatum{
		datum("RowsBuffered", atomic.SwapInt64(&rowsBuffered, 0)),
		datum("BatchesFlushed", atomic.SwapInt64(&batchesFlushed, 0)),
		datum("BatchesCommitted", atomic.SwapInt64(&batchesCommitted, 0)),
		datum("FramesDispatched", atomic.SwapInt64(&framesDispatched, 0)),
		datum("Reconnects", atomic.SwapInt64(&reconnects, 0)),
		datum("DecodeDrops", atomic.SwapInt64(&decodeDrops, 0)),
		datum("OrdersTracked", atomic.SwapInt64(&ordersTracked, 0)),
		datum("HeartbeatsAnswered", atomic.SwapInt64(&heartbeatsAnswered, 0)),
	}
	publishMetrics(ctx, data)
}

func datum(name string, value int64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(float64(value)),
	}
}

// publishMetrics sends the provided metric data to CloudWatch when the
// client has been initialised.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	log := GetLogger().WithComponent("cloudwatch")
	if cwClient == nil || len(data) == 0 {
		return
	}

	if _, err := cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cwNamespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}
