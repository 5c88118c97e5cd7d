// Package replay applies replication events to a target Redis, turning
// the event stream back into writes. It is the handler a replicator
// deployment plugs into a session.
package replay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/maplestoria/redis-event/logger"
	"github.com/maplestoria/redis-event/replica"
)

// Options configures the target connection and pacing
type Options struct {
	Addr     string
	Password string
	DB       int
	MaxOps   int // applied commands per second, 0 = unlimited
}

// Stats counts replay outcomes
type Stats struct {
	Applied int64
	Skipped int64
	Failed  int64
}

// Replayer implements replica.Handler against a target Redis. Apply
// errors are counted and logged, not propagated: the stream must keep
// moving even when individual writes fail.
type Replayer struct {
	client  *redis.Client
	limiter *rate.Limiter
	ctx     context.Context

	applied atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// NewReplayer connects to the target and verifies it is reachable
func NewReplayer(ctx context.Context, opts Options) (*Replayer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("replay: target %s unreachable: %w", opts.Addr, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.MaxOps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxOps), opts.MaxOps)
	}

	return &Replayer{client: client, limiter: limiter, ctx: ctx}, nil
}

// Close releases the target connection
func (r *Replayer) Close() error {
	return r.client.Close()
}

// Stats returns replay counters
func (r *Replayer) Stats() Stats {
	return Stats{
		Applied: r.applied.Load(),
		Skipped: r.skipped.Load(),
		Failed:  r.failed.Load(),
	}
}

// Handle applies one event to the target
func (r *Replayer) Handle(e replica.Event) {
	switch ev := e.(type) {
	case *replica.KeyValueEvent:
		r.applyKeyValue(ev)
	case *replica.CommandEvent:
		r.applyCommand(ev)
	default:
		// Selector/resize/aux records carry no writes to apply
		r.skipped.Add(1)
	}
}

func (r *Replayer) applyKeyValue(ev *replica.KeyValueEvent) {
	if err := r.limiter.Wait(r.ctx); err != nil {
		r.skipped.Add(1)
		return
	}

	var err error
	switch v := ev.Value.(type) {
	case *replica.StringValue:
		err = r.client.Set(r.ctx, ev.Key, v.Value, 0).Err()

	case *replica.ListValue:
		if len(v.Elements) == 0 {
			r.skipped.Add(1)
			return
		}
		err = r.client.RPush(r.ctx, ev.Key, toAnySlice(v.Elements)...).Err()

	case *replica.SetValue:
		if len(v.Members) == 0 {
			r.skipped.Add(1)
			return
		}
		err = r.client.SAdd(r.ctx, ev.Key, toAnySlice(v.Members)...).Err()

	case *replica.ZSetValue:
		if len(v.Members) == 0 {
			r.skipped.Add(1)
			return
		}
		members := make([]redis.Z, len(v.Members))
		for i, m := range v.Members {
			members[i] = redis.Z{Member: m.Member, Score: m.Score}
		}
		err = r.client.ZAdd(r.ctx, ev.Key, members...).Err()

	case *replica.HashValue:
		if len(v.Fields) == 0 {
			r.skipped.Add(1)
			return
		}
		err = r.client.HSet(r.ctx, ev.Key, flattenHash(v.Fields)...).Err()

	case *replica.StreamValue:
		for _, entry := range v.Entries {
			addErr := r.client.XAdd(r.ctx, &redis.XAddArgs{
				Stream: ev.Key,
				ID:     entry.ID,
				Values: toAnyMap(entry.Fields),
			}).Err()
			if addErr != nil && err == nil {
				err = addErr
			}
		}

	default:
		// Module payloads are opaque; nothing portable to write
		r.skipped.Add(1)
		return
	}

	if err == nil {
		if expireAt := ev.ExpireAtMillis(); expireAt > 0 {
			err = r.client.PExpireAt(r.ctx, ev.Key, time.UnixMilli(expireAt)).Err()
		}
	}

	if err != nil {
		r.failed.Add(1)
		logger.Warn("replay of key %q failed: %v", ev.Key, err)
		return
	}
	r.applied.Add(1)
}

func (r *Replayer) applyCommand(ev *replica.CommandEvent) {
	switch ev.Cmd {
	case replica.CmdPing, replica.CmdSelect, replica.CmdMulti, replica.CmdExec, replica.CmdDiscard:
		// Heartbeats, db switches and transaction framing do not apply
		// through a pooled client
		r.skipped.Add(1)
		return
	}

	if err := r.limiter.Wait(r.ctx); err != nil {
		r.skipped.Add(1)
		return
	}

	args := make([]interface{}, 0, 1+len(ev.Args))
	args = append(args, ev.Name)
	for _, arg := range ev.Args {
		args = append(args, arg)
	}

	if err := r.client.Do(r.ctx, args...).Err(); err != nil {
		r.failed.Add(1)
		logger.Warn("replay of %s failed: %v", ev.Name, err)
		return
	}
	r.applied.Add(1)
}

func toAnySlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func toAnyMap(fields map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func flattenHash(fields map[string]string) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
