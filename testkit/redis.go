package testkit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ceyewan/scribesnap/connector"
)

// NewRedisContainerConnector 使用 testcontainers 启动 Redis 并返回已连接的连接器
// Docker 不可用时 Skip
func NewRedisContainerConnector(t *testing.T) connector.RedisConnector {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	conn, err := connector.NewRedis(&connector.RedisConfig{
		Name: "testcontainer-redis",
		Addr: strings.TrimPrefix(uri, "redis://"),
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx), "failed to connect to redis")
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}
