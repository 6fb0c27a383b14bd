// Package connector 提供 scribesnap 外部依赖的连接管理。
//
// 支持的数据源：
//   - SQLite / MySQL / PostgreSQL：基于 GORM，供记录存储使用
//   - Redis：分布式限流驱动使用，内置 redisotel 链路追踪
//   - NATS：事件发布使用
//
// 约定：
//   - NewXXX() 只创建连接器，Connect() 时才真正建立连接，Connect() 幂等
//   - 连接器拥有底层连接的生命周期，组件只借用连接器，不调用 Close()
//   - 应用层按 LIFO 顺序释放：先关闭依赖连接器的组件，再关闭连接器
//
// 基本使用：
//
//	conn, err := connector.NewRedis(&connector.RedisConfig{Addr: "127.0.0.1:6379"},
//		connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	client := conn.GetClient()
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Connector 所有连接器的通用行为，方法均为并发安全
type Connector interface {
	// Connect 建立连接，幂等
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，幂等
	Close() error

	// HealthCheck 主动检查连接，同时刷新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最后一次检查的结果，不阻塞
	IsHealthy() bool

	// Name 连接器实例名称，用于日志和指标
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Connect 之前或 Close 之后可能为 nil
	GetClient() T
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// NATSConnector NATS 连接器，内置自动重连
type NATSConnector interface {
	TypedConnector[*nats.Conn]
}

// SQLiteConnector SQLite 连接器，支持内存库和文件库
type SQLiteConnector interface {
	TypedConnector[*gorm.DB]
}

// MySQLConnector MySQL 连接器
type MySQLConnector interface {
	TypedConnector[*gorm.DB]
}

// PostgreSQLConnector PostgreSQL 连接器
type PostgreSQLConnector interface {
	TypedConnector[*gorm.DB]
}
