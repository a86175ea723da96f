package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "sync"
    "sync/atomic"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
)

const axiomBatch = 200

// axiomSink is a zerolog.LevelWriter that batches events in the background and ships
// them to Axiom. Events below minLevel never leave the process.
type axiomSink struct {
    client   *axiom.Client
    dataset  string
    minLevel zerolog.Level
    events   chan axiom.Event
    dropped  atomic.Int64

    stop chan struct{}
    wg   sync.WaitGroup
    once sync.Once
}

func newAxiomSink(opts AxiomOptions) (*axiomSink, error) {
    dataset := opts.Dataset
    if dataset == "" { dataset = "dev_" + serviceName }
    copts := []axiom.Option{axiom.SetToken(opts.Token)}
    if opts.OrgID != "" { copts = append(copts, axiom.SetOrganizationID(opts.OrgID)) }
    client, err := axiom.NewClient(copts...)
    if err != nil { return nil, err }

    every := opts.Flush
    if every <= 0 { every = 10 * time.Second }
    min := opts.MinLevel
    if min < zerolog.InfoLevel { min = zerolog.InfoLevel }
    s := &axiomSink{
        client:   client,
        dataset:  dataset,
        minLevel: min,
        events:   make(chan axiom.Event, 1000),
        stop:     make(chan struct{}),
    }
    s.wg.Add(1)
    go s.run(every)
    return s, nil
}

func (s *axiomSink) Write(p []byte) (int, error) { return s.WriteLevel(zerolog.NoLevel, p) }

func (s *axiomSink) WriteLevel(l zerolog.Level, p []byte) (int, error) {
    if l != zerolog.NoLevel && l < s.minLevel { return len(p), nil }
    ev := axiom.Event{}
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = axiom.Event{"message": string(p), "level": zerolog.InfoLevel.String()}
    }
    if _, ok := ev[ingest.TimestampField]; !ok { ev[ingest.TimestampField] = time.Now() }
    select {
    case s.events <- ev:
    default:
        s.dropped.Add(1)
    }
    return len(p), nil
}

func (s *axiomSink) run(every time.Duration) {
    defer s.wg.Done()
    ticker := time.NewTicker(every)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, axiomBatch)
    ship := func() {
        if len(batch) == 0 { return }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        if _, err := s.client.IngestEvents(ctx, s.dataset, batch); err != nil {
            s.dropped.Add(int64(len(batch)))
        }
        cancel()
        batch = batch[:0]
    }
    for {
        select {
        case ev := <-s.events:
            batch = append(batch, ev)
            if len(batch) >= axiomBatch { ship() }
        case <-ticker.C:
            ship()
        case <-s.stop:
            for {
                select {
                case ev := <-s.events:
                    batch = append(batch, ev)
                default:
                    ship()
                    return
                }
            }
        }
    }
}

// Close drains queued events and reports how many were lost.
func (s *axiomSink) Close() error {
    s.once.Do(func() {
        close(s.stop)
        s.wg.Wait()
        if n := s.dropped.Load(); n > 0 {
            fmt.Fprintf(os.Stderr, "axiom: %d log events dropped\n", n)
        }
    })
    return nil
}
