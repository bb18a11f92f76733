package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeScripter answers the sliding-window script with a fixed reply.
type fakeScripter struct {
	reply []interface{}
	err   error
	keys  []string
}

func (f *fakeScripter) result(keys []string) *redis.Cmd {
	f.keys = keys
	return redis.NewCmdResult(f.reply, f.err)
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.result(keys)
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.result(keys)
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.result(keys)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.result(keys)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestLimiter_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil)
	result, err := l.Check(context.Background(), "test:key", 60, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if result.Remaining != 59 {
		t.Errorf("expected remaining=59, got %d", result.Remaining)
	}
}

func TestLimiter_NilRedis_MultipleChecks(t *testing.T) {
	l := NewLimiter(nil)
	// Without Redis, every check passes (fail open)
	for i := 0; i < 100; i++ {
		result, _ := l.Check(context.Background(), "test:key", 10, time.Minute)
		if !result.Allowed {
			t.Fatalf("expected allowed on check %d", i)
		}
	}
}

func TestLimiter_Allowed(t *testing.T) {
	fake := &fakeScripter{reply: []interface{}{int64(3), int64(1)}}
	l := &Limiter{rdb: fake}

	result, err := l.Check(context.Background(), "rpm:10.0.0.1", 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed")
	}
	if result.Remaining != 7 {
		t.Errorf("expected remaining=7, got %d", result.Remaining)
	}
	if len(fake.keys) != 1 || fake.keys[0] != "relay:rl:rpm:10.0.0.1" {
		t.Errorf("unexpected redis key %v", fake.keys)
	}
}

func TestLimiter_Denied(t *testing.T) {
	l := &Limiter{rdb: &fakeScripter{reply: []interface{}{int64(10), int64(0)}}}

	result, _ := l.Check(context.Background(), "rpm:10.0.0.1", 10, time.Minute)
	if result.Allowed {
		t.Error("expected denied")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining=0, got %d", result.Remaining)
	}
	if result.RetryAfter != 30*time.Second {
		t.Errorf("expected retry after 30s, got %s", result.RetryAfter)
	}
}

func TestLimiter_RedisError_FailOpen(t *testing.T) {
	l := &Limiter{rdb: &fakeScripter{err: errors.New("connection refused")}}

	result, err := l.Check(context.Background(), "rpm:10.0.0.1", 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected fail open on redis error")
	}
}
