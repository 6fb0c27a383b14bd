package testkit

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scribesnap/connector"
)

// NewNATSServer 启动一个进程内 NATS Server，监听随机端口
func NewNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err, "failed to create nats server")

	go server.Start()
	t.Cleanup(server.Shutdown)
	require.True(t, server.ReadyForConnections(5*time.Second), "nats server not ready")
	return server
}

// NewNATSConnector 返回连接到进程内 NATS Server 的连接器
func NewNATSConnector(t *testing.T) connector.NATSConnector {
	t.Helper()
	server := NewNATSServer(t)

	conn, err := connector.NewNATS(&connector.NATSConfig{
		Name: "embedded-nats",
		URL:  server.ClientURL(),
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}
