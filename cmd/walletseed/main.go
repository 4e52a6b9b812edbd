package main

import (
	"context"
	"flag"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/quantapay/walletd/seed"
)

var (
	count     = flag.Int("n", 10, "Number of users to seed")
	clear     = flag.Bool("clear", false, "Clear seeded test data first")
	redisAddr = flag.String("redis", "localhost:6379", "Redis address")
)

func main() {
	flag.Parse()

	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect to redis at %s: %v", *redisAddr, err)
	}

	seeder := seed.New(client)
	if *clear {
		n, err := seeder.Clear(ctx)
		if err != nil {
			log.Fatalf("clear: %v", err)
		}
		log.Printf("cleared %d test keys", n)
	}

	users := seed.GenerateUsers(*count)
	created, skipped, err := seeder.SeedUsers(ctx, users)
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}
	log.Printf("users: created %d, skipped %d", created, skipped)

	created, skipped, err = seeder.SeedWallets(ctx, seed.GenerateWallets(users))
	if err != nil {
		log.Fatalf("seed wallets: %v", err)
	}
	log.Printf("wallets: created %d, skipped %d", created, skipped)
}
