// Package idempotency deduplicates retried requests carrying an
// Idempotency-Key header.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInFlight is returned when a request with the same key is still
	// being processed.
	ErrInFlight = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused is returned when a key is replayed with a different body.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

const (
	stateInFlight = "in_flight"
	stateDone     = "done"
)

// Record is a completed response stored for replay.
type Record struct {
	StatusCode  int
	Body        []byte
	Fingerprint string
}

// Store keeps idempotency records in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a Store whose records expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// Fingerprint hashes a request body so replays with a different payload can
// be detected.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims key within scope. A nil record with a nil error means the
// caller owns the key and must call Complete or Abandon. A non-nil record is
// a completed response to replay.
func (s *Store) Begin(ctx context.Context, scope, key, fingerprint string) (*Record, error) {
	k := redisKey(scope, key)

	marker := encode(stateInFlight, &Record{Fingerprint: fingerprint})
	ok, err := s.client.SetNX(ctx, k, marker, s.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "claim key")
	}
	if ok {
		return nil, nil
	}

	data, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired or abandoned between SETNX and GET; claim again.
		return s.Begin(ctx, scope, key, fingerprint)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get record")
	}

	state, rec, err := decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	if rec.Fingerprint != "" && fingerprint != "" && rec.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	if state != stateDone {
		return nil, ErrInFlight
	}
	return rec, nil
}

// Complete stores the response for key. A record without a fingerprint
// inherits the one claimed by Begin so later reuse is still detected.
func (s *Store) Complete(ctx context.Context, scope, key string, rec *Record) error {
	k := redisKey(scope, key)
	if rec.Fingerprint == "" {
		data, err := s.client.Get(ctx, k).Bytes()
		switch {
		case err == nil:
			if _, claimed, derr := decode(data); derr == nil {
				done := *rec
				done.Fingerprint = claimed.Fingerprint
				rec = &done
			}
		case !errors.Is(err, redis.Nil):
			return errors.Wrap(err, "get record")
		}
	}
	if err := s.client.Set(ctx, k, encode(stateDone, rec), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "store record")
	}
	return nil
}

// Abandon releases key so the client may retry.
func (s *Store) Abandon(ctx context.Context, scope, key string) error {
	if err := s.client.Del(ctx, redisKey(scope, key)).Err(); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}

func redisKey(scope, key string) string {
	return fmt.Sprintf("idem:%s:%s", scope, key)
}

func encode(state string, rec *Record) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("state")
	e.Str(state)
	if rec.Fingerprint != "" {
		e.FieldStart("fingerprint")
		e.Str(rec.Fingerprint)
	}
	if state == stateDone {
		e.FieldStart("status")
		e.Int(rec.StatusCode)
		e.FieldStart("body")
		e.Base64(rec.Body)
	}
	e.ObjEnd()
	return e.Bytes()
}

func decode(data []byte) (string, *Record, error) {
	var (
		state string
		rec   Record
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "state":
			state, err = d.Str()
		case "fingerprint":
			rec.Fingerprint, err = d.Str()
		case "status":
			rec.StatusCode, err = d.Int()
		case "body":
			rec.Body, err = d.Base64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return state, &rec, nil
}
