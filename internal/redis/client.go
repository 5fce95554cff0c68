package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// AllSessionsTopic carries events for every session.
const AllSessionsTopic = "all"

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// EventsChannel is the pub/sub channel for a session id or AllSessionsTopic.
func EventsChannel(topic string) string {
	return fmt.Sprintf("session-events:%s", topic)
}
