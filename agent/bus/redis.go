package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 Redis 消息总线
// =============================================================================

// Config Redis 总线配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 连接超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig 返回默认总线配置
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// RedisBus 基于 Redis PUBLISH/SUBSCRIBE 的总线实现
type RedisBus struct {
	client *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus 创建 Redis 总线并验证连接
func NewRedisBus(config Config, logger *zap.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := &RedisBus{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "bus")),
		subs:   make(map[*redisSubscription]struct{}),
	}

	b.logger.Info("redis bus initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
	)

	return b, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Publish 发布消息。无订阅者时消息被丢弃（至多一次语义）
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	receivers, err := b.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		b.logger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if receivers == 0 {
		b.logger.Debug("published with no subscribers", zap.String("topic", topic))
	}
	return nil
}

// Subscribe 订阅主题，返回前确认订阅已生效
func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &redisSubscription{
		topic:  topic,
		ps:     ps,
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run(subCtx, h, b.logger)

	b.logger.Info("subscribed", zap.String("topic", topic))
	return s, nil
}

// Ping 检查 Redis 连接
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Client 返回底层 Redis 客户端
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// Close 关闭全部订阅与连接
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}

	b.logger.Info("redis bus closed")
	return b.client.Close()
}

func (b *RedisBus) forget(s *redisSubscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// =============================================================================
// 🔔 订阅
// =============================================================================

type redisSubscription struct {
	topic  string
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	bus    *RedisBus
}

func (s *redisSubscription) Topic() string { return s.topic }

func (s *redisSubscription) Done() <-chan struct{} { return s.done }

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		s.bus.forget(s)
	})
	<-s.done
	return err
}

func (s *redisSubscription) run(ctx context.Context, h Handler, logger *zap.Logger) {
	defer close(s.done)
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			dispatch(ctx, h, msg.Channel, []byte(msg.Payload), logger)
		}
	}
}

// dispatch 同步调用处理函数，吞掉 panic 以保护订阅循环
func dispatch(ctx context.Context, h Handler, topic string, payload []byte, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, topic, payload)
}
