package redisstore_test

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit/redisstore"
)

// Example demonstrates a limiter shared through Redis.
func Example() {
	server, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store, err := redisstore.New(client)
	if err != nil {
		panic(err)
	}

	limiter, err := ratelimit.New(store, ratelimit.WithName("api"))
	if err != nil {
		panic(err)
	}

	cfg := ratelimit.Config{
		Algorithm:   ratelimit.FixedWindow,
		MaxRequests: 2,
		Window:      time.Hour,
		Prefix:      "api",
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res := limiter.Check(ctx, "user:42", cfg)
		fmt.Println(res.Success, res.Remaining, res.Degraded)
	}

	// Output:
	// true 1 false
	// true 0 false
	// false 0 false
}
