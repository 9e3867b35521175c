package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"magicart-access-api/internal/model"

	"github.com/redis/go-redis/v9"
)

// consumeKeyScript removes a license key only if the requester may redeem it.
// Returns {0} when absent, {2, json} when bound to someone else, {1, json} on success.
var consumeKeyScript = redis.NewScript(`
	local v = redis.call("HGET", KEYS[1], ARGV[1])
	if not v then
		return {0, ""}
	end
	local k = cjson.decode(v)
	local bound = k["bound_username"]
	if bound and bound ~= "" and bound ~= ARGV[2] then
		return {2, v}
	end
	redis.call("HDEL", KEYS[1], ARGV[1])
	return {1, v}
`)

// updateAccountScript replaces an account record only if it is stored at the
// expected version. Returns 0 when absent, 2 on a version mismatch, 1 on success.
var updateAccountScript = redis.NewScript(`
	local cur = redis.call("HGET", KEYS[1], ARGV[1])
	if not cur then
		return 0
	end
	if tonumber(cjson.decode(cur)["version"]) ~= tonumber(ARGV[3]) then
		return 2
	end
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	return 1
`)

// maxWatchRetries bounds the optimistic retries of ApplyBan when unrelated
// accounts change the watched hash.
const maxWatchRetries = 5

// RedisConfig holds connection settings for the Redis store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store on Redis. Accounts and keys are JSON values in
// hashes; ban records live in one sorted set per surrogate scored by expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	accounts *redisAccountRepository
	keys     *redisLicenseKeyRepository
	bans     *redisBanRepository
}

// redisAccount carries the password hash that model.Account hides from JSON.
type redisAccount struct {
	model.Account
	PasswordHash string `json:"password_hash"`
}

// redisBan gives every ledger entry a unique id so equal records stay distinct
// sorted-set members.
type redisBan struct {
	ID int64 `json:"id"`
	model.BanRecord
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "magicart"
	}

	s := &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "redis_store")),
	}
	s.accounts = &redisAccountRepository{s: s}
	s.keys = &redisLicenseKeyRepository{s: s}
	s.bans = &redisBanRepository{s: s}

	s.logger.Info("redis store initialized", slog.Int("db", cfg.DB), slog.String("prefix", prefix))
	return s, nil
}

func (s *RedisStore) accountsKey() string { return s.prefix + ":accounts" }
func (s *RedisStore) licenseKeysKey() string { return s.prefix + ":license_keys" }
func (s *RedisStore) settingsKey() string { return s.prefix + ":settings" }
func (s *RedisStore) banSeqKey() string { return s.prefix + ":bans:seq" }
func (s *RedisStore) banAllKey() string { return s.prefix + ":bans:all" }

func (s *RedisStore) surrogateIndexKey(kind model.BanKind, surrogate string) string {
	return s.prefix + ":idx:" + string(kind) + ":" + surrogate
}

func (s *RedisStore) banKey(kind model.BanKind, surrogate string) string {
	return s.prefix + ":bans:" + string(kind) + ":" + surrogate
}

func (s *RedisStore) Accounts() AccountRepository { return s.accounts }
func (s *RedisStore) Keys() LicenseKeyRepository { return s.keys }
func (s *RedisStore) Bans() BanRepository { return s.bans }
func (s *RedisStore) Settings() SettingsRepository { return s }

// ApplyBan writes the accounts and ledger records in one MULTI/EXEC block. The
// accounts hash is WATCHed and every account's stored version is compared
// before the block is queued.
func (s *RedisStore) ApplyBan(ctx context.Context, accounts []*model.Account, records []model.BanRecord) error {
	members, err := s.banMembers(ctx, records)
	if err != nil {
		return err
	}

	fields := make([]interface{}, 0, len(accounts)*2)
	usernames := make([]string, len(accounts))
	for i, a := range accounts {
		next := a.Clone()
		next.Version++
		data, err := encodeAccount(next)
		if err != nil {
			return err
		}
		fields = append(fields, a.Username, data)
		usernames[i] = a.Username
	}

	apply := func(tx *redis.Tx) error {
		if len(accounts) > 0 {
			stored, err := tx.HMGet(ctx, s.accountsKey(), usernames...).Result()
			if err != nil {
				return fmt.Errorf("failed to read accounts: %w", err)
			}
			for i, v := range stored {
				data, ok := v.(string)
				if !ok {
					return fmt.Errorf("account %s: %w", usernames[i], ErrNotFound)
				}
				cur, err := decodeAccount(data)
				if err != nil {
					return err
				}
				if cur.Version != accounts[i].Version {
					return fmt.Errorf("account %s at version %d: %w", usernames[i], accounts[i].Version, ErrConflict)
				}
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(fields) > 0 {
				pipe.HSet(ctx, s.accountsKey(), fields...)
			}
			s.queueBans(ctx, pipe, records, members)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.client.Watch(ctx, apply, s.accountsKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("failed to apply ban: %w", ErrConflict)
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		return err
	case err != nil:
		return fmt.Errorf("failed to apply ban: %w", err)
	}

	for _, a := range accounts {
		a.Version++
	}
	return nil
}

// banMembers reserves ids and encodes the sorted-set members for records.
func (s *RedisStore) banMembers(ctx context.Context, records []model.BanRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	last, err := s.client.IncrBy(ctx, s.banSeqKey(), int64(len(records))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve ban ids: %w", err)
	}
	first := last - int64(len(records)) + 1

	members := make([]string, len(records))
	for i, rec := range records {
		data, err := json.Marshal(redisBan{ID: first + int64(i), BanRecord: rec})
		if err != nil {
			return nil, fmt.Errorf("failed to encode ban record: %w", err)
		}
		members[i] = string(data)
	}
	return members, nil
}

func (s *RedisStore) queueBans(ctx context.Context, pipe redis.Pipeliner, records []model.BanRecord, members []string) {
	for i, rec := range records {
		z := redis.Z{Score: float64(toMillis(rec.ExpiresAt)), Member: members[i]}
		pipe.ZAdd(ctx, s.banKey(rec.Kind, rec.Surrogate), z)
		pipe.ZAdd(ctx, s.banAllKey(), z)
	}
}

// GetSetting returns a stored setting.
func (s *RedisStore) GetSetting(ctx context.Context, name string) (string, error) {
	value, err := s.client.HGet(ctx, s.settingsKey(), name).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("setting %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", name, err)
	}
	return value, nil
}

// SetSetting inserts or replaces a setting.
func (s *RedisStore) SetSetting(ctx context.Context, name, value string) error {
	if err := s.client.HSet(ctx, s.settingsKey(), name, value).Err(); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", name, err)
	}
	return nil
}

// Stats returns Redis statistics.
func (s *RedisStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	pipe := s.client.Pipeline()
	accounts := pipe.HLen(ctx, s.accountsKey())
	keys := pipe.HLen(ctx, s.licenseKeysKey())
	bans := pipe.ZCard(ctx, s.banAllKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	return map[string]interface{}{
		"type":         "redis",
		"accounts":     accounts.Val(),
		"license_keys": keys.Val(),
		"ban_records":  bans.Val(),
	}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeAccount(a *model.Account) (string, error) {
	data, err := json.Marshal(redisAccount{Account: *a, PasswordHash: a.PasswordHash})
	if err != nil {
		return "", fmt.Errorf("failed to encode account %s: %w", a.Username, err)
	}
	return string(data), nil
}

func decodeAccount(data string) (*model.Account, error) {
	var r redisAccount
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	a := r.Account
	a.PasswordHash = r.PasswordHash
	return &a, nil
}

// redisAccountRepository implements AccountRepository on RedisStore.
type redisAccountRepository struct {
	s *RedisStore
}

// Create stores a new account at version 1 and indexes its surrogates.
func (r *redisAccountRepository) Create(ctx context.Context, a *model.Account) error {
	created := a.Clone()
	created.Version = 1
	data, err := encodeAccount(created)
	if err != nil {
		return err
	}

	ok, err := r.s.client.HSetNX(ctx, r.s.accountsKey(), a.Username, data).Result()
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", a.Username, err)
	}
	if !ok {
		return fmt.Errorf("account %s: %w", a.Username, ErrDuplicate)
	}
	a.Version = created.Version

	pipe := r.s.client.Pipeline()
	if a.NetworkSurrogate != "" {
		pipe.SAdd(ctx, r.s.surrogateIndexKey(model.BanKindNetwork, a.NetworkSurrogate), a.Username)
	}
	if a.DeviceSurrogate != "" {
		pipe.SAdd(ctx, r.s.surrogateIndexKey(model.BanKindDevice, a.DeviceSurrogate), a.Username)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index account %s: %w", a.Username, err)
	}
	return nil
}

// GetByUsername retrieves an account.
func (r *redisAccountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	data, err := r.s.client.HGet(ctx, r.s.accountsKey(), username).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("account %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", username, err)
	}
	return decodeAccount(data)
}

// Update replaces an existing account if it is still at a.Version.
func (r *redisAccountRepository) Update(ctx context.Context, a *model.Account) error {
	next := a.Clone()
	next.Version++
	data, err := encodeAccount(next)
	if err != nil {
		return err
	}

	n, err := updateAccountScript.Run(ctx, r.s.client, []string{r.s.accountsKey()}, a.Username, data, a.Version).Int()
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", a.Username, err)
	}
	switch n {
	case 0:
		return fmt.Errorf("account %s: %w", a.Username, ErrNotFound)
	case 2:
		return fmt.Errorf("account %s at version %d: %w", a.Username, a.Version, ErrConflict)
	}
	a.Version = next.Version
	return nil
}

// FindBySurrogate returns accounts indexed under either surrogate.
func (r *redisAccountRepository) FindBySurrogate(ctx context.Context, network, device string) ([]*model.Account, error) {
	var indexes []string
	if network != "" {
		indexes = append(indexes, r.s.surrogateIndexKey(model.BanKindNetwork, network))
	}
	if device != "" {
		indexes = append(indexes, r.s.surrogateIndexKey(model.BanKindDevice, device))
	}
	if len(indexes) == 0 {
		return nil, nil
	}

	usernames, err := r.s.client.SUnion(ctx, indexes...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find accounts by surrogate: %w", err)
	}
	return r.load(ctx, usernames)
}

// List returns all accounts.
func (r *redisAccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	usernames, err := r.s.client.HKeys(ctx, r.s.accountsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return r.load(ctx, usernames)
}

func (r *redisAccountRepository) load(ctx context.Context, usernames []string) ([]*model.Account, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	sort.Strings(usernames)

	values, err := r.s.client.HMGet(ctx, r.s.accountsKey(), usernames...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	accounts := make([]*model.Account, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		a, err := decodeAccount(data)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// redisLicenseKeyRepository implements LicenseKeyRepository on RedisStore.
type redisLicenseKeyRepository struct {
	s *RedisStore
}

// Insert adds an unredeemed key.
func (r *redisLicenseKeyRepository) Insert(ctx context.Context, k *model.LicenseKey) error {
	data, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("failed to encode license key: %w", err)
	}

	created, err := r.s.client.HSetNX(ctx, r.s.licenseKeysKey(), k.Value, data).Result()
	if err != nil {
		return fmt.Errorf("failed to insert license key: %w", err)
	}
	if !created {
		return fmt.Errorf("license key %s: %w", k.Value, ErrDuplicate)
	}
	return nil
}

// Get retrieves an active key.
func (r *redisLicenseKeyRepository) Get(ctx context.Context, value string) (*model.LicenseKey, error) {
	data, err := r.s.client.HGet(ctx, r.s.licenseKeysKey(), value).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("license key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license key: %w", err)
	}

	var k model.LicenseKey
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to decode license key: %w", err)
	}
	return &k, nil
}

// Consume runs the owner check and removal inside one Lua script.
func (r *redisLicenseKeyRepository) Consume(ctx context.Context, value, requester string) (*model.LicenseKey, error) {
	res, err := consumeKeyScript.Run(ctx, r.s.client, []string{r.s.licenseKeysKey()}, value, requester).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to consume license key: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected consume reply: %v", res)
	}

	code, _ := res[0].(int64)
	switch code {
	case 0:
		return nil, fmt.Errorf("license key: %w", ErrNotFound)
	case 2:
		return nil, fmt.Errorf("license key: %w", ErrWrongOwner)
	}

	data, _ := res[1].(string)
	var k model.LicenseKey
	if err := json.Unmarshal([]byte(data), &k); err != nil {
		return nil, fmt.Errorf("failed to decode license key: %w", err)
	}
	return &k, nil
}

// List returns all active keys, oldest first.
func (r *redisLicenseKeyRepository) List(ctx context.Context) ([]*model.LicenseKey, error) {
	values, err := r.s.client.HVals(ctx, r.s.licenseKeysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}

	keys := make([]*model.LicenseKey, 0, len(values))
	for _, v := range values {
		var k model.LicenseKey
		if err := json.Unmarshal([]byte(v), &k); err != nil {
			return nil, fmt.Errorf("failed to decode license key: %w", err)
		}
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].Value < keys[j].Value
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

// redisBanRepository implements BanRepository on RedisStore.
type redisBanRepository struct {
	s *RedisStore
}

// Append adds ledger records atomically.
func (r *redisBanRepository) Append(ctx context.Context, records ...model.BanRecord) error {
	if len(records) == 0 {
		return nil
	}
	members, err := r.s.banMembers(ctx, records)
	if err != nil {
		return err
	}

	_, err = r.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.s.queueBans(ctx, pipe, records, members)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append bans: %w", err)
	}
	return nil
}

// Active returns records for the surrogate that expire after now.
func (r *redisBanRepository) Active(ctx context.Context, kind model.BanKind, surrogate string, now time.Time) ([]model.BanRecord, error) {
	members, err := r.s.client.ZRevRangeByScore(ctx, r.s.banKey(kind, surrogate), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(toMillis(now), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query active bans: %w", err)
	}

	bans, err := decodeBans(members)
	if err != nil {
		return nil, err
	}
	records := make([]model.BanRecord, len(bans))
	for i, b := range bans {
		records[i] = b.BanRecord
	}
	return records, nil
}

// List returns every record, newest first.
func (r *redisBanRepository) List(ctx context.Context) ([]model.BanRecord, error) {
	members, err := r.s.client.ZRange(ctx, r.s.banAllKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}

	bans, err := decodeBans(members)
	if err != nil {
		return nil, err
	}
	sort.Slice(bans, func(i, j int) bool { return bans[i].ID > bans[j].ID })

	records := make([]model.BanRecord, len(bans))
	for i, b := range bans {
		records[i] = b.BanRecord
	}
	return records, nil
}

// DeleteExpiredBefore prunes records that ended before cutoff.
func (r *redisBanRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(toMillis(cutoff), 10)
	members, err := r.s.client.ZRangeByScore(ctx, r.s.banAllKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to query expired bans: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	bans, err := decodeBans(members)
	if err != nil {
		return 0, err
	}

	_, err = r.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, b := range bans {
			pipe.ZRem(ctx, r.s.banKey(b.Kind, b.Surrogate), members[i])
			pipe.ZRem(ctx, r.s.banAllKey(), members[i])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bans: %w", err)
	}
	return int64(len(members)), nil
}

func decodeBans(members []string) ([]redisBan, error) {
	bans := make([]redisBan, 0, len(members))
	for _, m := range members {
		var b redisBan
		if err := json.Unmarshal([]byte(m), &b); err != nil {
			return nil, fmt.Errorf("failed to decode ban record: %w", err)
		}
		if _, err := model.ParseBanKind(string(b.Kind)); err != nil {
			return nil, fmt.Errorf("corrupt ban record: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
