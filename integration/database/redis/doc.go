// Package redis opens and health-checks go-redis clients.
//
// Connect validates the URL (redis:// or rediss://), then pings with
// exponential backoff until the server answers or the attempts run out:
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	probe := redis.Healthcheck(client)
//
// Errors wrap ErrEmptyURL, ErrInvalidURL,
// ErrNotReady or ErrUnhealthy; test them with errors.Is.
package redis
