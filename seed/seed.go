// Package seed provisions test users and wallets in Redis. Seeding is
// strictly create-if-absent so it can run against a live dataset without
// overwriting anything.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	firstNames = []string{"John", "Jane", "Michael", "Sarah", "David", "Emma", "James", "Emily", "Robert", "Lisa"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez"}
)

// User is a seeded user record.
type User struct {
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
}

// Wallet is a seeded wallet record.
type Wallet struct {
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
}

// Seeder writes users and wallets to Redis.
type Seeder struct {
	client *redis.Client
}

// New returns a Seeder using the provided client.
func New(client *redis.Client) *Seeder {
	return &Seeder{client: client}
}

// GenerateUsers builds count deterministic user ids with random names.
func GenerateUsers(count int) []User {
	now := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	users := make([]User, 0, count)
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("user_%d", i)
		users = append(users, User{
			UserID:    id,
			FullName:  firstNames[rand.Intn(len(firstNames))] + " " + lastNames[rand.Intn(len(lastNames))],
			Email:     fmt.Sprintf("user%d@example.com", i),
			CreatedAt: now,
			Status:    "active",
		})
	}
	return users
}

// GenerateWallets builds one wallet per user with a random balance between
// 100 and 10000.
func GenerateWallets(users []User) []Wallet {
	now := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	wallets := make([]Wallet, 0, len(users))
	for _, u := range users {
		balance := decimal.NewFromFloat(100 + rand.Float64()*9900).Round(2)
		wallets = append(wallets, Wallet{
			WalletID:  "wallet_" + u.UserID,
			UserID:    u.UserID,
			Balance:   balance.StringFixed(2),
			Currency:  "USD",
			CreatedAt: now,
			Status:    "active",
		})
	}
	return wallets
}

// SeedUsers writes users that do not exist yet and reports created/skipped
// counts.
func (s *Seeder) SeedUsers(ctx context.Context, users []User) (created, skipped int, err error) {
	for _, u := range users {
		key := "user:" + u.UserID
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return created, skipped, err
		}
		if exists > 0 {
			skipped++
			continue
		}
		data, err := json.Marshal(u)
		if err != nil {
			return created, skipped, err
		}
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"user_id":    u.UserID,
			"full_name":  u.FullName,
			"email":      u.Email,
			"created_at": u.CreatedAt,
			"status":     u.Status,
		})
		pipe.Set(ctx, key+":json", data, 0)
		pipe.SAdd(ctx, "users:all", u.UserID)
		if _, err := pipe.Exec(ctx); err != nil {
			return created, skipped, err
		}
		created++
	}
	return created, skipped, nil
}

// SeedWallets writes wallets that do not exist yet and reports
// created/skipped counts.
func (s *Seeder) SeedWallets(ctx context.Context, wallets []Wallet) (created, skipped int, err error) {
	for _, w := range wallets {
		key := "wallet:" + w.UserID
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return created, skipped, err
		}
		if exists > 0 {
			skipped++
			continue
		}
		data, err := json.Marshal(w)
		if err != nil {
			return created, skipped, err
		}
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"wallet_id":  w.WalletID,
			"user_id":    w.UserID,
			"balance":    w.Balance,
			"currency":   w.Currency,
			"created_at": w.CreatedAt,
			"status":     w.Status,
		})
		pipe.Set(ctx, key+":json", data, 0)
		pipe.SAdd(ctx, "wallets:all", w.UserID)
		if _, err := pipe.Exec(ctx); err != nil {
			return created, skipped, err
		}
		created++
	}
	return created, skipped, nil
}

// SeedAll seeds count users with wallets.
func (s *Seeder) SeedAll(ctx context.Context, count int) error {
	users := GenerateUsers(count)
	if _, _, err := s.SeedUsers(ctx, users); err != nil {
		return err
	}
	_, _, err := s.SeedWallets(ctx, GenerateWallets(users))
	return err
}

// Clear removes seeded test data only: user, wallet and index keys.
func (s *Seeder) Clear(ctx context.Context) (int, error) {
	var keys []string
	for _, pattern := range []string{"user:*", "wallet:*", "users:all", "wallets:all"} {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return 0, err
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}
