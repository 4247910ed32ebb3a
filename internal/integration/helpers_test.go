//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f64(v float64) *float64 { return &v }

var testCycle = domain.Cycle{Date: time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC), Hour: 0}

// dailyFixture is a small table in the order the stores read it back:
// location, state, day.
func dailyFixture() []domain.DailyRecord {
	campinas := domain.Location{Name: "Campinas", State: "SP"}
	londrina := domain.Location{Name: "Londrina", State: "PR"}
	day := testCycle.Date
	return []domain.DailyRecord{
		{Location: campinas, Day: day, Temperature: f64(24.25), Precipitation: f64(0.0021), WindU: f64(1.5), WindV: f64(-2)},
		{Location: campinas, Day: day.AddDate(0, 0, 1), Temperature: f64(26), Precipitation: f64(0), WindU: f64(0.5), WindV: f64(1)},
		{Location: londrina, Day: day, Temperature: f64(21.5), Precipitation: nil, WindU: f64(-3), WindV: nil},
	}
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0", kafka.WithClusterID("forecast-etl-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// startPostgres runs a throwaway database and returns its DSN.
func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("forecast"),
		postgres.WithUsername("forecast"),
		postgres.WithPassword("forecast"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
