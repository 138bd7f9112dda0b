package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// NewMongoClient connects and pings, retrying with exponential backoff until
// maxElapsed runs out.
func NewMongoClient(ctx context.Context, uri string, timeout, maxElapsed time.Duration, log *zap.Logger) (*mongo.Client, error) {
	var client *mongo.Client
	operation := func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
		if err != nil {
			return err
		}
		if err := c.Ping(cctx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	notify := func(err error, next time.Duration) {
		log.Warn("mongo connect failed, retrying", zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return client, nil
}
