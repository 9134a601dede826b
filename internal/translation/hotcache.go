package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier keeps recently used cache entries in Redis hashes, one hash per
// (normalized text, target) key. It never holds anything the database does
// not, so losing it only costs latency.
type RedisTier struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisTier connects to url (redis://...) and verifies the connection.
func NewRedisTier(ctx context.Context, url string, ttl time.Duration) (*RedisTier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisTierFromClient(rdb, ttl), nil
}

// NewRedisTierFromClient wraps an existing client.
func NewRedisTierFromClient(client redis.UniversalClient, ttl time.Duration) *RedisTier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTier{client: client, ttl: ttl, prefix: "unibabel:tc:"}
}

// Close releases the client.
func (r *RedisTier) Close() error { return r.client.Close() }

func (r *RedisTier) key(normalized, target string) string {
	sum := sha256.Sum256([]byte(normalized + "\x00" + target))
	return r.prefix + target + ":" + hex.EncodeToString(sum[:16])
}

// Get reads a hash back into an entry. A hash whose stored text differs from
// normalized (a digest collision) is treated as a miss.
func (r *RedisTier) Get(ctx context.Context, normalized, target string) (*Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(normalized, target)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 || fields["normalized_text"] != normalized {
		return nil, false, nil
	}
	e := &Entry{
		NormalizedText: normalized,
		TargetLanguage: target,
		TranslatedText: fields["translated_text"],
		SourceLanguage: fields["source_language"],
		Source:         Source(fields["source"]),
	}
	e.ID, _ = strconv.ParseInt(fields["cache_id"], 10, 64)
	e.Confidence, _ = strconv.ParseFloat(fields["confidence"], 64)
	if s := fields["submission_id"]; s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			e.SubmissionID = &id
		}
	}
	return e, true, nil
}

// storeScript replaces the hash at KEYS[1] with the field/value pairs in
// ARGV[4:]. ARGV[1] is the mode: "add" writes only when no entry is held,
// "rank" writes unless the held entry's rank exceeds ARGV[3]. ARGV[2] is the
// TTL in milliseconds. Returns 1 when written.
var storeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'rank')
if cur then
  if ARGV[1] == 'add' then return 0 end
  if tonumber(cur) > tonumber(ARGV[3]) then return 0 end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// Set writes e and refreshes its TTL unless the tier holds an entry of
// higher authority for the same key.
func (r *RedisTier) Set(ctx context.Context, e *Entry) error {
	return r.store(ctx, "rank", e)
}

// Add writes e only when nothing is held for its key, so a read-through fill
// never replaces an entry written by a newer upsert.
func (r *RedisTier) Add(ctx context.Context, e *Entry) error {
	return r.store(ctx, "add", e)
}

func (r *RedisTier) store(ctx context.Context, mode string, e *Entry) error {
	sub := ""
	if e.SubmissionID != nil {
		sub = strconv.FormatInt(*e.SubmissionID, 10)
	}
	args := []any{
		mode,
		r.ttl.Milliseconds(),
		e.Source.Rank(),
		"cache_id", e.ID,
		"normalized_text", e.NormalizedText,
		"translated_text", e.TranslatedText,
		"source_language", e.SourceLanguage,
		"confidence", strconv.FormatFloat(e.Confidence, 'f', -1, 64),
		"source", string(e.Source),
		"rank", e.Source.Rank(),
		"submission_id", sub,
	}
	return storeScript.Run(ctx, r.client, []string{r.key(e.NormalizedText, e.TargetLanguage)}, args...).Err()
}

// Delete drops the hash for (normalized, target).
func (r *RedisTier) Delete(ctx context.Context, normalized, target string) error {
	return r.client.Del(ctx, r.key(normalized, target)).Err()
}
