// Package session はRedisを使ったセッションストアを提供する。
// SESSION_STORE=redis の場合にPostgreSQLのsessionsテーブルの代わりに使用する。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/memberproof/internal/model"
	"github.com/hitoshi/memberproof/internal/repository"
)

const defaultKeyPrefix = "memberproof:session:"

// RedisStore はRedisに保存するSessionRepositoryの実装。
// キーのTTLをセッションの有効期限に合わせるため、期限切れセッションの掃除は不要。
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	Subject    string `json:"subject"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	IsMember   bool   `json:"is_member"`
	ExpiresAt  int64  `json:"expires_at"`
	CreatedAt  int64  `json:"created_at"`
}

// NewRedisStore はRedisStoreを生成する。prefixが空の場合はデフォルトを使う。
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Create はセッションを保存する。TTLはExpiresAtまでの残り時間。
func (s *RedisStore) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	b, err := json.Marshal(toRedisSession(session))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(session.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// FindByID はセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *RedisStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data redisSession
	if err := json.Unmarshal(val, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	session := &model.Session{
		ID:         id,
		Subject:    data.Subject,
		GivenName:  data.GivenName,
		FamilyName: data.FamilyName,
		IsMember:   data.IsMember,
		ExpiresAt:  time.Unix(data.ExpiresAt, 0),
		CreatedAt:  time.Unix(data.CreatedAt, 0),
	}
	if session.IsExpired(s.now()) {
		return nil, nil
	}
	return session, nil
}

// Update はセッションの内容を書き換える。TTLは維持し、存在しないキーは作成しない。
func (s *RedisStore) Update(ctx context.Context, session *model.Session) error {
	b, err := json.Marshal(toRedisSession(session))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.SetXX(ctx, s.key(session.ID), b, redis.KeepTTL).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteByID はセッションを削除する。
func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。ヘルスチェックで使用する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toRedisSession(session *model.Session) redisSession {
	return redisSession{
		Subject:    session.Subject,
		GivenName:  session.GivenName,
		FamilyName: session.FamilyName,
		IsMember:   session.IsMember,
		ExpiresAt:  session.ExpiresAt.Unix(),
		CreatedAt:  session.CreatedAt.Unix(),
	}
}

// compile-time interface check
var _ repository.SessionRepository = (*RedisStore)(nil)
