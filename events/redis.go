package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisOptions configures a RedisPublisher.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher publishes spawn decisions on a redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  logrus.FieldLogger
}

// NewRedisPublisher connects and pings the server. A failed ping is logged,
// not returned: publishing retries on every spawn.
func NewRedisPublisher(opts RedisOptions, logger logrus.FieldLogger) *RedisPublisher {
	logger = log.Component(logger, "redis")
	logger.Infof("Connecting to Redis at %s...", opts.Address)

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
	} else {
		logger.Info("Successfully connected to Redis")
	}

	channel := opts.Channel
	if channel == "" {
		channel = "spawns"
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

func (p *RedisPublisher) Spawn(ctx context.Context, d models.SpawnDecision) error {
	data, err := EncodeSpawn(d)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("events: redis publish %s: %w", p.channel, err)
	}
	p.logger.WithField("entity_type", d.EntityType).Debug("published spawn")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
