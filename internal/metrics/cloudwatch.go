package metrics

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"marketdash/config"
	"marketdash/logger"
)

// maxDatumsPerRequest bounds one PutMetricData call.
const maxDatumsPerRequest = 150

type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type aggregate struct {
	component string
	name      string
	gauge     bool
	value     float64
	unit      cwtypes.StandardUnit
	dims      []cwtypes.Dimension
}

// CloudWatch aggregates emitted metrics and publishes them once per interval.
// Counters are summed and gauges keep their last value.
type CloudWatch struct {
	client    putMetricDataAPI
	namespace string
	interval  time.Duration
	log       *logger.Log

	mu      sync.Mutex
	pending map[string]*aggregate

	handlerID MetricHandlerID
}

// InitCloudWatch loads the AWS configuration and returns a subscribed sink.
// Static credentials from cfg are used when both keys are set, otherwise the
// default AWS credential chain applies.
func InitCloudWatch(ctx context.Context, cfg config.CloudWatchConfig, log *logger.Log) (*CloudWatch, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	cw := newCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace, cfg.PublishInterval, log)
	cw.handlerID = RegisterMetricHandler(cw.handle)

	log.WithComponent("cloudwatch").WithFields(logger.Fields{
		"region":    awsCfg.Region,
		"namespace": cw.namespace,
		"interval":  cw.interval.String(),
	}).Info("initialized CloudWatch client")

	return cw, nil
}

func newCloudWatch(client putMetricDataAPI, namespace string, interval time.Duration, log *logger.Log) *CloudWatch {
	if namespace == "" {
		namespace = "MarketDash"
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		interval:  interval,
		log:       log,
		pending:   make(map[string]*aggregate),
	}
}

// Run flushes pending metrics every interval until ctx is cancelled, then
// flushes once more and unsubscribes.
func (c *CloudWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer UnregisterMetricHandler(c.handlerID)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

func (c *CloudWatch) handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}

	dims := dimensionsOf(m)
	key := aggregateKey(m.Name, dims)

	c.mu.Lock()
	defer c.mu.Unlock()

	agg, ok := c.pending[key]
	if !ok {
		agg = &aggregate{
			component: m.Component,
			name:      m.Name,
			gauge:     m.Type == "gauge",
			unit:      unitOf(m),
			dims:      dims,
		}
		c.pending[key] = agg
	}
	if agg.gauge {
		agg.value = value
	} else {
		agg.value += value
	}
}

func (c *CloudWatch) drain() []cwtypes.MetricDatum {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*aggregate)
	c.mu.Unlock()

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := timeNow()
	data := make([]cwtypes.MetricDatum, 0, len(keys))
	for _, k := range keys {
		agg := pending[k]
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(agg.name),
			Dimensions: agg.dims,
			Unit:       agg.unit,
			Value:      aws.Float64(agg.value),
			Timestamp:  aws.Time(now),
		})
	}
	return data
}

func (c *CloudWatch) flush(ctx context.Context) {
	data := c.drain()
	if len(data) == 0 {
		c.log.WithComponent("cloudwatch").Debug("no metric data to publish")
		return
	}

	for start := 0; start < len(data); start += maxDatumsPerRequest {
		end := start + maxDatumsPerRequest
		if end > len(data) {
			end = len(data)
		}
		c.publish(ctx, data[start:end])
	}
}

func (c *CloudWatch) publish(ctx context.Context, data []cwtypes.MetricDatum) {
	if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	}); err != nil {
		c.log.WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}

	c.log.WithComponent("cloudwatch").WithFields(logger.Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
}

func dimensionsOf(m Metric) []cwtypes.Dimension {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}

	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		// attempt and bytes vary per event and would explode the dimension space
		if k == "unit" || k == "attempt" || k == "bytes" {
			continue
		}
		if s, ok := m.Fields[k].(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	return dims
}

func aggregateKey(name string, dims []cwtypes.Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteByte('|')
		b.WriteString(aws.ToString(d.Name))
		b.WriteByte('=')
		b.WriteString(aws.ToString(d.Value))
	}
	return b.String()
}

func unitOf(m Metric) cwtypes.StandardUnit {
	raw, ok := m.Fields["unit"].(string)
	if !ok {
		return cwtypes.StandardUnitCount
	}
	if unit, found := metricUnitFromString(raw); found {
		return unit
	}
	return cwtypes.StandardUnitCount
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
