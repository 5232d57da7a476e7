package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	healthEvery = 10 * time.Second
	failThresh  = 3
)

type MongoConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

// Connector keeps a MongoDB client alive in the background: it connects with
// backoff, pings periodically and drops the client after failThresh misses,
// then starts connecting again.
type Connector struct {
	cfg MongoConfig

	mu      sync.RWMutex
	client  *mongo.Client
	db      *mongo.Database
	readyCh chan struct{}
	once    sync.Once
	lastErr atomic.Value

	// OnConnect runs after every successful connect, before the client is published.
	OnConnect func(ctx context.Context, db *mongo.Database) error
}

func NewConnector(cfg MongoConfig) *Connector {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 100
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Connector{cfg: cfg, readyCh: make(chan struct{})}
}

// StartAsync runs until ctx is done.
func (c *Connector) StartAsync(ctx context.Context) {
	go func() {
		for {
			if !c.connectLoop(ctx) {
				return
			}
			c.healthLoop(ctx)
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (c *Connector) connectLoop(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		err := c.connect(ctx)
		if err == nil {
			c.once.Do(func() { close(c.readyCh) })
			log.Info().Str("module", "storage.mongo").Str("db", c.cfg.Database).Msg("connected")
			return true
		}
		c.lastErr.Store(err)
		wait := b.NextBackOff()
		log.Warn().Err(err).Str("module", "storage.mongo").Dur("retry_in", wait).Msg("connect failed")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *Connector) connect(ctx context.Context) error {
	if c.cfg.URI == "" {
		return errors.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(c.cfg.URI).
		SetMaxPoolSize(c.cfg.MaxPoolSize).
		SetServerSelectionTimeout(c.cfg.ConnectTimeout)

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	cli, err := mongo.Connect(cctx, opts)
	if err != nil {
		return errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(cctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return errors.Wrap(err, "mongo ping")
	}
	db := cli.Database(c.cfg.Database)
	if c.OnConnect != nil {
		if err := c.OnConnect(cctx, db); err != nil {
			_ = cli.Disconnect(context.Background())
			return errors.Wrap(err, "mongo on connect")
		}
	}

	c.mu.Lock()
	c.client, c.db = cli, db
	c.mu.Unlock()
	return nil
}

func (c *Connector) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			c.drop()
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				fail++
				c.lastErr.Store(err)
				log.Warn().Err(err).Str("module", "storage.mongo").Int("fail", fail).Msg("health ping failed")
				if fail >= failThresh {
					c.drop()
					return
				}
				continue
			}
			fail = 0
		}
	}
}

func (c *Connector) drop() {
	c.mu.Lock()
	cli := c.client
	c.client, c.db = nil, nil
	c.mu.Unlock()
	if cli != nil {
		_ = cli.Disconnect(context.Background())
		log.Warn().Str("module", "storage.mongo").Msg("disconnected")
	}
}

func (c *Connector) Ping(ctx context.Context) error {
	c.mu.RLock()
	cli := c.client
	c.mu.RUnlock()
	if cli == nil {
		return ErrNotConnected
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return cli.Ping(pctx, nil)
}

// TryGetDB returns the current database handle, if any.
func (c *Connector) TryGetDB() (*mongo.Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, false
	}
	return c.db, true
}

func (c *Connector) Connected() bool {
	_, ok := c.TryGetDB()
	return ok
}

// Ready is closed after the first successful connect.
func (c *Connector) Ready() <-chan struct{} { return c.readyCh }

// Err returns the last connect or ping error.
func (c *Connector) Err() error {
	if v := c.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}
