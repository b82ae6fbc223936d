package logger

import (
	"context"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	jsoniter "github.com/json-iterator/go"
)

var (
	cwClient    *cloudwatch.Client
	cwNamespace = "mdfeed"
	cwDashboard = "mdfeed"
)

// InitCloudWatch creates the CloudWatch client. An empty region falls back to
// AWS_REGION. Static keys are used when both are set, otherwise the default
// credential chain. On failure publishing stays disabled.
func InitCloudWatch(region, namespace, dashboard, accessKeyID, secretAccessKey string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cwClient = cloudwatch.NewFromConfig(awsCfg)

	if namespace != "" {
		cwNamespace = namespace
	}

	if dashboard != "" {
		cwDashboard = dashboard
	}

	log.WithFields(Fields{"region": region, "namespace": cwNamespace}).Info("initialized CloudWatch client")

	CreateDefaultDashboard(ctx)
}

// publishMetrics is a no-op until InitCloudWatch has created a client.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	if cwClient == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")
	_, err := cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cwNamespace),
		MetricData: data,
	})
	if err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}
	log.WithFields(Fields{"count": len(data)}).Debug("published metrics to CloudWatch")
}

// metricFieldsSkipped are metric bookkeeping fields, never dimensions.
var metricFieldsSkipped = map[string]bool{"metric": true, "metric_type": true, "value": true, "unit": true}

// metricDimensions returns the component dimension followed by every
// non-empty string field, sorted by name.
func metricDimensions(component string, fields Fields) []cwtypes.Dimension {
	names := make([]string, 0, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && s != "" && !metricFieldsSkipped[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	dims := make([]cwtypes.Dimension, 0, len(names)+1)
	dims = append(dims, cwtypes.Dimension{Name: aws.String("component"), Value: aws.String(component)})
	for _, k := range names {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(fields[k].(string))})
	}
	return dims
}

func metricValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// PublishMetric sends one numeric metric to CloudWatch. Non-numeric values
// are skipped.
func PublishMetric(component, metric string, value interface{}, fields Fields) {
	val, ok := metricValue(value)
	if !ok {
		return
	}
	publishMetrics(context.Background(), []cwtypes.MetricDatum{{
		MetricName: aws.String(metric),
		Dimensions: metricDimensions(component, fields),
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(val),
	}})
}

// dashboardMetrics are the report metrics plotted on the default dashboard.
var dashboardMetrics = []string{"HeapMB", "Goroutines", "BatchesDispatched", "SnapshotCommits", "FramesRead", "Reconnects"}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

func dashboardBody(namespace string) (string, error) {
	series := make([][]string, 0, len(dashboardMetrics))
	for _, name := range dashboardMetrics {
		series = append(series, []string{namespace, name})
	}
	body := struct {
		Widgets []dashboardWidget `json:"widgets"`
	}{Widgets: []dashboardWidget{{
		Type:   "metric",
		Width:  24,
		Height: 6,
		Properties: widgetProperties{
			Metrics: series,
			Period:  60,
			Stat:    "Average",
			Title:   namespace + " runtime",
		},
	}}}
	return jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(body)
}

// CreateDefaultDashboard puts the runtime dashboard once a client exists.
// Failures are only logged.
func CreateDefaultDashboard(ctx context.Context) {
	if cwClient == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")
	body, err := dashboardBody(cwNamespace)
	if err != nil {
		log.WithError(err).Warn("failed to encode CloudWatch dashboard")
		return
	}
	if _, err := cwClient.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(cwDashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
