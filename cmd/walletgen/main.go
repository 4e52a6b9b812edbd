package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	uuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantapay/walletd/transport"
	"github.com/quantapay/walletd/wallet"
)

var (
	count     = flag.Int("n", 7, "Number of transfers to publish")
	brokers   = flag.String("brokers", "localhost:9092", "Comma-separated Kafka brokers")
	redisAddr = flag.String("redis", "localhost:6379", "Redis address")
	topic     = flag.String("topic", transport.DefaultRequestTopic, "Request topic")
	interval  = flag.Duration("interval", 1500*time.Millisecond, "Delay between transfers")
)

var currencies = []string{wallet.CurrencyUSD, wallet.CurrencyEUR, wallet.CurrencyGBP}

func main() {
	flag.Parse()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect to redis at %s: %v", *redisAddr, err)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(strings.Split(*brokers, ","), cfg)
	if err != nil {
		log.Fatalf("create kafka producer: %v", err)
	}
	defer producer.Close()

	users, err := client.SMembers(ctx, "users:all").Result()
	if err != nil {
		log.Fatalf("fetch users: %v", err)
	}
	sort.Strings(users)
	if len(users) < 2 {
		log.Fatalf("need at least 2 seeded users, found %d (run walletseed first)", len(users))
	}
	log.Printf("found %d users", len(users))

	published := 0
	for attempts := 0; published < *count && attempts < *count*5; attempts++ {
		from := users[rand.Intn(len(users))]
		to := users[rand.Intn(len(users))]
		if from == to {
			continue
		}

		balanceStr, err := client.HGet(ctx, "wallet:"+from, "balance").Result()
		if err != nil {
			log.Printf("skip %s: no wallet (%v)", from, err)
			continue
		}
		balance, err := decimal.NewFromString(balanceStr)
		if err != nil || !balance.IsPositive() {
			continue
		}

		maxAmount := balance.Mul(decimal.RequireFromString("0.8"))
		span := maxAmount.Sub(decimal.NewFromInt(20))
		if !span.IsPositive() {
			continue
		}
		amount := decimal.NewFromInt(20).Add(span.Mul(decimal.NewFromFloat(rand.Float64()))).Round(2)

		id, err := uuid.GenerateUUID()
		if err != nil {
			log.Fatalf("generate id: %v", err)
		}
		req := wallet.TransferRequest{
			TransferID:     "tx_" + id,
			FromUser:       from,
			ToUser:         to,
			Amount:         amount,
			Currency:       currencies[rand.Intn(len(currencies))],
			IdempotencyKey: "tx_" + id,
		}
		data, err := json.Marshal(req)
		if err != nil {
			log.Fatalf("marshal request: %v", err)
		}

		_, _, err = producer.SendMessage(&sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(from),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("producer"), Value: []byte("walletgen")},
				{Key: []byte("validation"), Value: []byte("pre-checked")},
			},
		})
		if err != nil {
			log.Fatalf("publish: %v", err)
		}
		published++
		log.Printf("published %s: %s -> %s | %s %s", req.TransferID, from, to, amount.StringFixed(2), req.Currency)
		time.Sleep(*interval)
	}

	log.Printf("done: %d/%d transfers published", published, *count)
}
