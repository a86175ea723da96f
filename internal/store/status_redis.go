package store

import (
    "context"
    "encoding/json"
    "fmt"
    "strconv"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Status mirrors a load session for external observers.
type Status struct {
    State      string                 `json:"state"`
    TotalPages int                    `json:"total_pages"`
    Loaded     int                    `json:"loaded_count"`
    Loading    bool                   `json:"is_loading"`
    LastError  string                 `json:"last_error,omitempty"`
    Start      *time.Time             `json:"start_time,omitempty"`
    Updated    *time.Time             `json:"updated_time,omitempty"`
    Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type RedisStatus struct {
    client *redis.Client
    keyNS  string
    ttl    time.Duration
}

func NewRedisStatus(client *redis.Client, ttl time.Duration) *RedisStatus {
    return &RedisStatus{client: client, keyNS: "session", ttl: ttl}
}

func (s *RedisStatus) key(sessionID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, sessionID) }

func (s *RedisStatus) Set(ctx context.Context, sessionID string, st Status) error {
    m := map[string]interface{}{
        "state":   st.State,
        "total":   st.TotalPages,
        "loaded":  st.Loaded,
        "loading": strconv.FormatBool(st.Loading),
        "error":   st.LastError,
    }
    if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
    if st.Updated != nil { m["updated"] = st.Updated.Format(time.RFC3339Nano) }
    if st.Metadata != nil {
        b, _ := json.Marshal(st.Metadata)
        m["metadata"] = string(b)
    }
    key := s.key(sessionID)
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, key, m)
    if s.ttl > 0 { pipe.Expire(ctx, key, s.ttl) }
    _, err := pipe.Exec(ctx)
    return err
}

func (s *RedisStatus) Get(ctx context.Context, sessionID string) (Status, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
    if err != nil { return Status{}, false, err }
    if len(res) == 0 { return Status{}, false, nil }
    st := Status{
        State:     res["state"],
        LastError: res["error"],
        Loading:   res["loading"] == "true",
    }
    st.TotalPages, _ = strconv.Atoi(res["total"])
    st.Loaded, _ = strconv.Atoi(res["loaded"])
    if v := res["start"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
    }
    if v := res["updated"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Updated = &t }
    }
    if v := res["metadata"]; v != "" {
        _ = json.Unmarshal([]byte(v), &st.Metadata)
    }
    return st, true, nil
}
