package store

import (
    "context"
    "fmt"
    "strconv"
    "time"

    redis "github.com/redis/go-redis/v9"

    "github.com/local/flipbook/internal/render"
)

// RedisPageCache keeps encoded pages keyed by document fingerprint so reopening the same
// file skips rasterisation. It implements render.Cache.
type RedisPageCache struct {
    client *redis.Client
    ttl    time.Duration
}

func NewRedisPageCache(client *redis.Client, ttl time.Duration) *RedisPageCache {
    return &RedisPageCache{client: client, ttl: ttl}
}

func (s *RedisPageCache) pageKey(fingerprint, variant string, page int) string {
    return fmt.Sprintf("doc:%s:%s:page:%d", fingerprint, variant, page)
}

func (s *RedisPageCache) PutPage(ctx context.Context, fingerprint, variant string, p render.Page) error {
    key := s.pageKey(fingerprint, variant, p.Index)
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, key, map[string]interface{}{
        "width":  p.Width,
        "height": p.Height,
        "format": p.Format,
        "image":  p.Image,
    })
    if s.ttl > 0 { pipe.Expire(ctx, key, s.ttl) }
    _, err := pipe.Exec(ctx)
    return err
}

func (s *RedisPageCache) GetPage(ctx context.Context, fingerprint, variant string, page int) (render.Page, bool, error) {
    res, err := s.client.HGetAll(ctx, s.pageKey(fingerprint, variant, page)).Result()
    if err != nil { return render.Page{}, false, err }
    if len(res) == 0 || res["image"] == "" { return render.Page{}, false, nil }
    w, errW := strconv.Atoi(res["width"])
    h, errH := strconv.Atoi(res["height"])
    if errW != nil || errH != nil {
        return render.Page{}, false, fmt.Errorf("corrupt cached page %d", page)
    }
    return render.Page{
        Index:  page,
        Width:  w,
        Height: h,
        Format: res["format"],
        Image:  []byte(res["image"]),
    }, true, nil
}
