package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/cache"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/sequence"
	"github.com/saashqdev/delightful-im/internal/store/memory"
	"github.com/saashqdev/delightful-im/internal/transport"
)

// flushRecorder remembers the stream status of every content write.
type flushRecorder struct {
	*memory.MessageStore
	mu       sync.Mutex
	statuses []models.StreamStatus
}

func (r *flushRecorder) UpdateContent(ctx context.Context, id string, c models.Content) error {
	if s, ok := c.(models.Streamable); ok && s.GetStreamOptions() != nil {
		r.mu.Lock()
		r.statuses = append(r.statuses, s.GetStreamOptions().Status)
		r.mu.Unlock()
	}
	return r.MessageStore.UpdateContent(ctx, id, c)
}

// directSender writes the message and both renderings without a queue.
type directSender struct {
	store    *memory.Store
	messages *flushRecorder
	factory  *sequence.Factory
	ids      idgen.Generator
}

func (s *directSender) SendMessage(ctx context.Context, d *models.MessageDraft, appMessageID string) (*models.ClientSeqView, error) {
	msg := &models.Message{
		DelightfulMessageID:     s.ids.NextString(),
		SenderID:                d.Sender.ID,
		SenderType:              d.Sender.Type,
		SenderOrganizationCode:  d.Sender.OrganizationCode,
		ReceiveID:               d.ReceiveID,
		ReceiveType:             d.ReceiveType,
		ReceiveOrganizationCode: d.ReceiveOrganizationCode,
		AppMessageID:            appMessageID,
		MessageType:             d.MessageType,
		Content:                 d.Content,
		SendTime:                time.Now().UTC(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	conv, err := s.store.Conversations().GetOrCreate(ctx, d.Sender, d.Receiver(), d.ReceiveType)
	if err != nil {
		return nil, err
	}
	seq, err := s.factory.GenerateSenderSequence(ctx, msg, conv, sequence.SenderOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := s.factory.GenerateReceiverSequence(ctx, seq, msg); err != nil {
		return nil, err
	}
	return models.NewClientSeqView(seq, msg)
}

type dispatched struct {
	mu   sync.Mutex
	seqs []*models.Seq
}

func (d *dispatched) DispatchSeqs(_ context.Context, seqs []*models.Seq, _ models.ConversationType, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs = append(d.seqs, seqs...)
	return nil
}

type fragmentSink struct {
	mu        sync.Mutex
	fragments map[string][]Fragment
}

func (s *fragmentSink) PushToRecipient(_ context.Context, objectID string, payload []byte) error {
	var e transport.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	var f Fragment
	if err := json.Unmarshal(e.Data, &f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments[objectID] = append(s.fragments[objectID], f)
	return nil
}

type fixture struct {
	agg        *Aggregator
	messages   *flushRecorder
	dispatched *dispatched
	sink       *fragmentSink
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ids := idgen.NewSnowflake(1)
	st := memory.NewStore(ids)
	f := &fixture{
		messages:   &flushRecorder{MessageStore: memory.NewMessageStore()},
		dispatched: &dispatched{},
		sink:       &fragmentSink{fragments: map[string][]Fragment{}},
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	sc := cache.NewMemoryStreamCache(10*time.Minute, 100, 0)
	t.Cleanup(sc.Close)
	f.agg = NewAggregator(Deps{
		Cache: sc,
		Sender: &directSender{
			store:    st,
			messages: f.messages,
			factory:  sequence.NewFactory(st, ids, logger.Discard()),
			ids:      ids,
		},
		Seqs:       st.Sequences(),
		Messages:   f.messages,
		Dispatcher: f.dispatched,
		Sink:       f.sink,
		Locks:      lock.NewMemoryLock(lock.Options{}),
		Logger:     logger.Discard(),
	}, Config{FlushInterval: 3 * time.Second})
	f.agg.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

var bot = models.ObjectRef{ID: "bot", Type: models.ObjectTypeAi, OrganizationCode: "org"}

func agentDraft() *models.MessageDraft {
	return &models.MessageDraft{
		Sender:                  bot,
		ReceiveID:               "alice",
		ReceiveType:             models.ConversationTypeUser,
		ReceiveOrganizationCode: "org",
		MessageType:             models.MessageTypeMarkdown,
		Content:                 &models.MarkdownContent{},
	}
}

func TestStreamRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)

	for _, piece := range []string{"a", "b", "c"} {
		f.advance(2 * time.Second)
		require.NoError(t, f.agg.AppendFragment(ctx, "app-1", bot, map[string]any{"content": piece}))
	}
	require.NoError(t, f.agg.CompleteStream(ctx, "app-1", bot))

	msg, err := f.messages.GetByDelightfulMessageID(ctx, view.DelightfulMessageID)
	require.NoError(t, err)
	content := msg.Content.(*models.MarkdownContent)
	assert.Equal(t, "abc", content.Content)
	assert.Equal(t, models.StreamStatusCompleted, content.StreamOptions.Status)

	// one interval flush after "b", then the final one
	require.Len(t, f.messages.statuses, 2)
	assert.Equal(t, models.StreamStatusProcessing, f.messages.statuses[0])
	assert.Equal(t, models.StreamStatusCompleted, f.messages.statuses[1])

	assert.Len(t, f.dispatched.seqs, 2)
	assert.Len(t, f.sink.fragments["alice"], 3)
}

func TestAppendWithinIntervalDoesNotFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		f.advance(100 * time.Millisecond)
		require.NoError(t, f.agg.AppendFragment(ctx, "app-1", bot, map[string]any{"content": "x"}))
	}
	assert.Empty(t, f.messages.statuses)
	assert.Empty(t, f.dispatched.seqs)
}

func TestReopenKeepsAccumulatedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)
	require.NoError(t, f.agg.AppendFragment(ctx, "app-1", bot, map[string]any{"content": "kept"}))
	_, err = f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)

	entry, found, err := f.agg.cache.Get(ctx, "app-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "kept", entry.Fields["content"])
	assert.ElementsMatch(t, []string{"bot", "alice"}, entry.Recipients)
}

func TestMissingStreamIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.agg.AppendFragment(ctx, "nope", bot, map[string]any{"content": "a"})
	assert.ErrorIs(t, err, apperr.ErrStreamState)

	_, err = f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)
	require.NoError(t, f.agg.CompleteStream(ctx, "app-1", bot))
	assert.ErrorIs(t, f.agg.CompleteStream(ctx, "app-1", bot), apperr.ErrStreamState)
}

func TestOpenStreamRejectsNonStreamable(t *testing.T) {
	f := newFixture(t)
	d := agentDraft()
	d.MessageType = models.MessageTypeFiles
	d.Content = &models.FilesContent{Files: []models.Attachment{{FileID: "f1"}}}

	_, err := f.agg.OpenStream(context.Background(), d, "app-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStreamStepsRequireOpeningSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)
	require.NoError(t, f.agg.AppendFragment(ctx, "app-1", bot, map[string]any{"content": "mine"}))

	mallory := models.ObjectRef{ID: "mallory", Type: models.ObjectTypeUser, OrganizationCode: "org"}
	err = f.agg.AppendFragment(ctx, "app-1", mallory, map[string]any{"content": " injected"})
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.ErrorIs(t, f.agg.CompleteStream(ctx, "app-1", mallory), apperr.ErrPermission)
	assert.ErrorIs(t, f.agg.CompleteStream(ctx, "app-1", models.ObjectRef{}), apperr.ErrPermission)

	hijack := agentDraft()
	hijack.Sender = mallory
	_, err = f.agg.OpenStream(ctx, hijack, "app-1")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	entry, found, err := f.agg.cache.Get(ctx, "app-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "mine", entry.Fields["content"])
	assert.Empty(t, f.dispatched.seqs)

	require.NoError(t, f.agg.CompleteStream(ctx, "app-1", bot))
	msg, err := f.messages.GetByDelightfulMessageID(ctx, view.DelightfulMessageID)
	require.NoError(t, err)
	assert.Equal(t, "mine", msg.Content.(*models.MarkdownContent).Content)
}

func TestConcurrentFragmentsAreAllMerged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.agg.OpenStream(ctx, agentDraft(), "app-1")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			piece := fmt.Sprintf("<%02d>", i)
			assert.NoError(t, f.agg.AppendFragment(ctx, "app-1", bot, map[string]any{"content": piece}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, f.agg.CompleteStream(ctx, "app-1", bot))

	msg, err := f.messages.GetByDelightfulMessageID(ctx, view.DelightfulMessageID)
	require.NoError(t, err)
	content := msg.Content.(*models.MarkdownContent).Content
	assert.Len(t, content, writers*4)
	for i := 0; i < writers; i++ {
		assert.Contains(t, content, fmt.Sprintf("<%02d>", i))
	}
	assert.Len(t, f.sink.fragments["alice"], writers)
}
