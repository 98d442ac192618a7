package transport

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/delightful-im/internal/logger"
)

type fakeConn struct {
	mu      sync.Mutex
	msgs    [][]byte
	failErr error
	closed  bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.msgs = append(f.msgs, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestHubDeliversToEveryDevice(t *testing.T) {
	h := NewHub(logger.Discard())
	phone, laptop, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Register("u1", phone)
	h.Register("u1", laptop)
	h.Register("u2", other)

	require.NoError(t, h.PushToRecipient(context.Background(), "u1", []byte("hi")))

	assert.Eventually(t, func() bool { return phone.count() == 1 && laptop.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, other.count())
	assert.Equal(t, 3, h.ConnectionCount())
}

func TestHubOfflineRecipientIsNotAnError(t *testing.T) {
	h := NewHub(logger.Discard())
	assert.NoError(t, h.PushToRecipient(context.Background(), "nobody", []byte("x")))
	assert.Equal(t, 0, h.Deliver("nobody", []byte("x")))
}

func TestHubDropsFailingConnection(t *testing.T) {
	h := NewHub(logger.Discard())
	bad := &fakeConn{failErr: errors.New("broken pipe")}
	h.Register("u1", bad)

	h.Deliver("u1", []byte("x"))
	assert.Eventually(t, func() bool { return h.Devices("u1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(logger.Discard())
	conn := &fakeConn{}
	c := h.Register("u1", conn)
	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, 0, h.Devices("u1"))
	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, time.Second, 5*time.Millisecond)
}

func TestEncodeEvent(t *testing.T) {
	raw, err := EncodeEvent(EventSeq, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, EventSeq, e.Type)
	assert.JSONEq(t, `{"message_id":"m1"}`, string(e.Data))
}

func TestRedisRelay(t *testing.T) {
	uri := os.Getenv("REDIS_URI")
	if uri == "" {
		t.Skip("REDIS_URI not set; skipping redis integration test")
	}
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(logger.Discard())
	user := uuid.NewString()
	conn := &fakeConn{}
	h.Register(user, conn)

	relay := NewRedisRelay(client, h, logger.Discard())
	relay.Start(ctx)

	assert.Eventually(t, func() bool {
		_ = relay.PushToRecipient(ctx, user, []byte("ping"))
		return conn.count() > 0
	}, 3*time.Second, 50*time.Millisecond)
}
