package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxClient reads back what the bridge wrote to InfluxDB.
type InfluxClient struct {
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

func NewInfluxClient(url, org, bucket, token string) *InfluxClient {
	c := influxdb2.NewClient(url, token)
	return &InfluxClient{bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// CountPoints returns the number of points of measurement written in the
// last hour, optionally restricted to one entity.
func (c *InfluxClient) CountPoints(ctx context.Context, measurement, entityID string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q) |> range(start:-1h) |> filter(fn: (r) => r._measurement == %q)`, c.bucket, measurement)
	if entityID != "" {
		flux += fmt.Sprintf(` |> filter(fn: (r) => r.entity_id == %q)`, entityID)
	}
	res, err := c.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer func() { _ = res.Close() }()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

func (c *InfluxClient) Close() { c.client.Close() }
