package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN         string
	KafkaBrokers  []string
	HTTPAddr      string
	JWTIssuer     string
	JWTSecret     string
	JWTTTL        time.Duration
	ExchangeWSURL string
	LockTTL       time.Duration
	ArchiveBatch  int
	ArchiveFlush  time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()
	var c Config
	var missing []string
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		missing = append(missing, "KAFKA_BROKERS")
	} else {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		c.JWTIssuer = "levx"
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		jwtTTL = "24h"
	}
	d, err := time.ParseDuration(jwtTTL)
	if err != nil {
		return c, err
	}
	c.JWTTTL = d
	c.ExchangeWSURL = os.Getenv("EXCHANGE_WS_URL")
	if c.ExchangeWSURL == "" {
		c.ExchangeWSURL = "wss://ws.backpack.exchange/"
	}
	lockTTL := os.Getenv("MATCH_LOCK_TTL")
	if lockTTL == "" {
		lockTTL = "3s"
	}
	if c.LockTTL, err = time.ParseDuration(lockTTL); err != nil {
		return c, err
	}
	batch := os.Getenv("ARCHIVE_BATCH")
	if batch == "" {
		batch = "500"
	}
	if c.ArchiveBatch, err = strconv.Atoi(batch); err != nil {
		return c, err
	}
	flush := os.Getenv("ARCHIVE_FLUSH_INTERVAL")
	if flush == "" {
		flush = "3s"
	}
	if c.ArchiveFlush, err = time.ParseDuration(flush); err != nil {
		return c, err
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}
