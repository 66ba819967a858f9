package redis

import (
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/knadh/y2w/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	// Key is the hash that holds all settings.
	Key string `koanf:"key"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	if cfg.Key == "" {
		cfg.Key = "y2w:settings"
	}

	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// Get value from a key.
func (r *Redis) Get(key string) ([]byte, error) {
	c := r.pool.Get()
	defer c.Close()

	b, err := redis.Bytes(c.Do("HGET", r.cfg.Key, key))
	if err != nil {
		if err == redis.ErrNil {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Set a value.
func (r *Redis) Set(key string, data []byte) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("HSET", r.cfg.Key, key, data)
	return err
}

// Delete removes a key.
func (r *Redis) Delete(key string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("HDEL", r.cfg.Key, key)
	return err
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.pool.Close()
}
