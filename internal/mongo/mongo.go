package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_downloader/internal/config"
)

const (
	appName            = "tg_downloader"
	defaultTimeout     = 10 * time.Second
	defaultPingTimeout = 2 * time.Second
	defaultMaxPoolSize = 20
)

// Client MongoDB 客户端，附带数据库名和健康检查超时
type Client struct {
	*mongo.Client
	dbName      string
	pingTimeout time.Duration
}

// Config MongoDB 连接配置
type Config struct {
	URI         string        // 例如 "mongodb://localhost:27017"
	Database    string        // 数据库名称
	Timeout     time.Duration // 连接与选主超时
	PingTimeout time.Duration // 健康检查超时
	MaxPoolSize uint64        // 连接池上限，0 使用默认值
}

// NewClient 连接 MongoDB 并验证主节点可达
func NewClient(cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("MongoDB URI cannot be empty")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = defaultMaxPoolSize
	}

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(appName).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(cfg.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		Client:      client,
		dbName:      cfg.Database,
		pingTimeout: cfg.PingTimeout,
	}, nil
}

// InitFromConfig 使用应用配置创建客户端
func InitFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return NewClient(Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
	})
}

// Close 断开连接
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Disconnect(ctx)
}

// Database 下载记录和媒体存档所在的数据库
func (c *Client) Database() *mongo.Database {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Database(c.dbName)
}

// Ping 在健康检查超时内验证主节点可达
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.CheckHealth(ctx)
	return err
}

// CheckHealth 返回一次主节点 ping 的耗时，用于 /healthz
func (c *Client) CheckHealth(ctx context.Context) (time.Duration, error) {
	if c == nil || c.Client == nil {
		return 0, fmt.Errorf("MongoDB client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	start := time.Now()
	if err := c.Client.Ping(ctx, readpref.Primary()); err != nil {
		return 0, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return time.Since(start), nil
}
