package sessionstore

import (
	"encoding/json"
	"fmt"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/go-redis/redis/v7"
	"github.com/juju/errors"
)

// Redis stores sessions as JSON blobs under a common prefix, so multiple
// hub nodes can share one session list.
type Redis struct {
	log    logger.Logger
	client *redis.Client
	prefix string
}

var _ Store = &Redis{}

type RedisParams struct {
	Log logger.Logger

	Host string
	Port int
	DB   int

	// Prefix defaults to "experiment-hub".
	Prefix string
}

func NewRedis(params RedisParams) *Redis {
	prefix := params.Prefix
	if prefix == "" {
		prefix = "experiment-hub"
	}

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", params.Host, params.Port),
		DB:   params.DB,
	})

	return &Redis{
		log:    params.Log.WithNamespaceAppended("redis_store"),
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) key(id identifiers.SessionID) string {
	return r.prefix + ":session:" + string(id)
}

func (r *Redis) Set(session Session) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return errors.Annotate(err, "marshal session")
	}

	err = r.client.Set(r.key(session.ID), blob, 0).Err()

	return errors.Annotatef(err, "set session: %s", session.ID)
}

func (r *Redis) Get(id identifiers.SessionID) (Session, error) {
	blob, err := r.client.Get(r.key(id)).Result()
	if err == redis.Nil {
		return Session{}, errors.Trace(ErrNotFound)
	}

	if err != nil {
		return Session{}, errors.Annotatef(err, "get session: %s", id)
	}

	var session Session

	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		return Session{}, errors.Annotatef(err, "unmarshal session: %s", id)
	}

	return session, nil
}

func (r *Redis) Delete(id identifiers.SessionID) error {
	removed, err := r.client.Del(r.key(id)).Result()
	if err != nil {
		return errors.Annotatef(err, "delete session: %s", id)
	}

	if removed == 0 {
		return errors.Trace(ErrNotFound)
	}

	return nil
}

func (r *Redis) List() ([]Session, error) {
	var (
		ret    []Session
		cursor uint64
	)

	for {
		keys, next, err := r.client.Scan(cursor, r.prefix+":session:*", 100).Result()
		if err != nil {
			return nil, errors.Annotate(err, "scan sessions")
		}

		for _, key := range keys {
			blob, err := r.client.Get(key).Result()
			if err == redis.Nil {
				continue
			}

			if err != nil {
				return nil, errors.Annotatef(err, "get session: %s", key)
			}

			var session Session

			if err := json.Unmarshal([]byte(blob), &session); err != nil {
				r.log.Error("Skip undecodable session", errors.Trace(err), logger.Ctx{
					"key": key,
				})

				continue
			}

			ret = append(ret, session)
		}

		cursor = next
		if cursor == 0 {
			return ret, nil
		}
	}
}

func (r *Redis) Close() error {
	return errors.Trace(r.client.Close())
}
