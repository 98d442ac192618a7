package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/cache"
	"github.com/saashqdev/delightful-im/internal/control"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/metrics"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/sequence"
	"github.com/saashqdev/delightful-im/internal/store"
	"github.com/saashqdev/delightful-im/internal/stream"
	"github.com/saashqdev/delightful-im/internal/transport"
)

// Dispatcher publishes committed Seqs for asynchronous delivery.
type Dispatcher interface {
	DispatchSeqs(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, conversationID string) error
	DispatchControl(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, memberCount int, conversationID string) error
}

type ChatDeps struct {
	Store       store.Store
	Messages    store.MessageStore
	IDs         idgen.Generator
	Dispatcher  Dispatcher
	Locks       lock.DistributedLock
	StreamCache cache.StreamCache
	Sink        transport.Sink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	StreamFlushInterval time.Duration
}

// ChatService is the entry point for humans and agents sending messages
// and acting on them.
type ChatService struct {
	store      store.Store
	messages   store.MessageStore
	ids        idgen.Generator
	factory    *sequence.Factory
	dispatcher Dispatcher
	locks      lock.DistributedLock
	control    *control.Machine
	stream     *stream.Aggregator
	log        *slog.Logger
	now        func() time.Time
}

func NewChatService(deps ChatDeps) *ChatService {
	log := logger.Or(deps.Logger)
	factory := sequence.NewFactory(deps.Store, deps.IDs, log)
	s := &ChatService{
		store:      deps.Store,
		messages:   deps.Messages,
		ids:        deps.IDs,
		factory:    factory,
		dispatcher: deps.Dispatcher,
		locks:      deps.Locks,
		log:        log.With("component", "chat"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.control = control.NewMachine(control.Deps{
		Store:      deps.Store,
		Messages:   deps.Messages,
		Factory:    factory,
		Dispatcher: deps.Dispatcher,
		Locks:      deps.Locks,
		IDs:        deps.IDs,
		Metrics:    deps.Metrics,
		Logger:     log,
	})
	s.stream = stream.NewAggregator(stream.Deps{
		Cache:      deps.StreamCache,
		Sender:     s,
		Seqs:       deps.Store.Sequences(),
		Messages:   deps.Messages,
		Dispatcher: deps.Dispatcher,
		Sink:       deps.Sink,
		Locks:      deps.Locks,
		Metrics:    deps.Metrics,
		Logger:     log,
	}, stream.Config{FlushInterval: deps.StreamFlushInterval})
	return s
}

// Stream exposes the aggregator, mainly so tests can pin its clock.
func (s *ChatService) Stream() *stream.Aggregator { return s.stream }

func validateDraft(d *models.MessageDraft) error {
	if d == nil {
		return apperr.InvalidArgument("message is required")
	}
	if d.Sender.ID == "" || !d.Sender.Type.Valid() {
		return apperr.InvalidArgument("sender is required")
	}
	if d.ReceiveID == "" || d.ReceiveType == "" {
		return apperr.InvalidArgument("receiver is required")
	}
	if d.ReceiveID == d.Sender.ID && d.ReceiveType.IsOneToOne() {
		return apperr.InvalidArgument("cannot send a private message to yourself")
	}
	return models.ValidateChatContent(d.MessageType, d.Content)
}

// SendMessage persists draft and queues its delivery. Sending again with the
// same appMessageID returns the first result without creating a message.
// An empty appMessageID gets a generated one.
func (s *ChatService) SendMessage(ctx context.Context, draft *models.MessageDraft, appMessageID string) (*models.ClientSeqView, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	if appMessageID == "" {
		appMessageID = uuid.NewString()
	}

	var view *models.ClientSeqView
	err := lock.WithMutex(ctx, s.locks, "send:"+appMessageID, func(ctx context.Context) error {
		existing, err := s.findSent(ctx, draft.Sender.ID, appMessageID, models.ChatMessageTypes())
		if err != nil {
			return err
		}
		if existing != nil {
			view, err = s.viewOf(ctx, existing)
			return err
		}
		view, err = s.send(ctx, draft, appMessageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *ChatService) send(ctx context.Context, draft *models.MessageDraft, appMessageID string) (*models.ClientSeqView, error) {
	if draft.ReceiveType.IsGroupLike() {
		ok, err := IsGroupMember(ctx, s.store.Conversations(), draft.ReceiveID, draft.Sender.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.PermissionDenied("not a member of group %s", draft.ReceiveID).WithApp(appMessageID)
		}
	}

	msg := &models.Message{
		DelightfulMessageID:     s.ids.NextString(),
		SenderID:                draft.Sender.ID,
		SenderType:              draft.Sender.Type,
		SenderOrganizationCode:  draft.Sender.OrganizationCode,
		ReceiveID:               draft.ReceiveID,
		ReceiveType:             draft.ReceiveType,
		ReceiveOrganizationCode: draft.ReceiveOrganizationCode,
		AppMessageID:            appMessageID,
		MessageType:             draft.MessageType,
		Content:                 draft.Content,
		SendTime:                s.now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	var (
		senderSeq *models.Seq
		all       []*models.Seq
		conv      *models.Conversation
	)
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		conv, err = tx.Conversations().GetOrCreate(ctx, draft.Sender, draft.Receiver(), draft.ReceiveType)
		if err != nil {
			return err
		}
		if conv.IsHidden {
			if err := tx.Conversations().Unhide(ctx, conv.ID); err != nil {
				return err
			}
		}

		b := s.factory.Bind(tx)
		senderSeq, err = b.GenerateSenderSequence(ctx, msg, conv, sequence.SenderOptions{
			ReferMessageID: draft.ReferMessageID,
			TopicID:        draft.TopicID,
		})
		if err != nil {
			return err
		}
		all = append(all, senderSeq)

		if draft.ReceiveType.IsGroupLike() {
			fanout, err := b.GenerateGroupFanout(ctx, senderSeq, msg)
			if err != nil {
				return err
			}
			all = append(all, fanout...)
			return nil
		}
		receiver, err := b.GenerateReceiverSequence(ctx, senderSeq, msg)
		if err != nil {
			return err
		}
		all = append(all, receiver)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.DispatchSeqs(ctx, all, draft.ReceiveType, conv.ID); err != nil {
		return nil, err
	}
	s.log.Info("message sent",
		"delightful_message_id", msg.DelightfulMessageID,
		"app_message_id", appMessageID,
		"conversation_id", conv.ID,
		"renderings", len(all))
	return models.NewClientSeqView(senderSeq, msg)
}

func (s *ChatService) findSent(ctx context.Context, senderID, appMessageID string, types []models.MessageType) (*models.Seq, error) {
	seq, err := s.store.Sequences().FindByAppMessageID(ctx, appMessageID, senderID, types)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	// a received rendering can carry the same app message id
	if !seq.IsSenderSide() {
		return nil, nil
	}
	return seq, nil
}

func (s *ChatService) viewOf(ctx context.Context, seq *models.Seq) (*models.ClientSeqView, error) {
	var msg *models.Message
	if seq.DelightfulMessageID != "" {
		var err error
		msg, err = s.messages.GetByDelightfulMessageID(ctx, seq.DelightfulMessageID)
		if err != nil {
			return nil, err
		}
	}
	return models.NewClientSeqView(seq, msg)
}

// IsAlreadySent reports whether senderID already sent appMessageID. With no
// types given every chat type matches.
func (s *ChatService) IsAlreadySent(ctx context.Context, senderID, appMessageID string, types ...models.MessageType) (bool, error) {
	if senderID == "" || appMessageID == "" {
		return false, apperr.InvalidArgument("sender and app_message_id are required")
	}
	if len(types) == 0 {
		types = models.ChatMessageTypes()
	}
	seq, err := s.findSent(ctx, senderID, appMessageID, types)
	if err != nil {
		return false, err
	}
	return seq != nil, nil
}

// StreamRequest carries one step of a streamed message.
type StreamRequest struct {
	// Draft is required when Status is start.
	Draft *models.MessageDraft
	// Caller must be the sender that opened the stream.
	Caller       models.ObjectRef
	AppMessageID string
	Fields       map[string]any
	Status       models.StreamStatus
}

// StreamSend drives a streamed message: start opens it, processing merges
// a fragment and completed merges any last fragment before finishing. Only
// start returns a view.
func (s *ChatService) StreamSend(ctx context.Context, req StreamRequest) (*models.ClientSeqView, error) {
	if req.AppMessageID == "" {
		return nil, apperr.InvalidArgument("app_message_id is required")
	}
	switch req.Status {
	case models.StreamStatusStart:
		view, err := s.stream.OpenStream(ctx, req.Draft, req.AppMessageID)
		if err != nil {
			return nil, err
		}
		req.Caller = req.Draft.Sender
		if len(req.Fields) > 0 {
			if err := s.stream.AppendFragment(ctx, req.AppMessageID, req.Caller, req.Fields); err != nil {
				return nil, err
			}
		}
		return view, nil
	case models.StreamStatusProcessing, "":
		return nil, s.stream.AppendFragment(ctx, req.AppMessageID, req.Caller, req.Fields)
	case models.StreamStatusCompleted:
		if len(req.Fields) > 0 {
			if err := s.stream.AppendFragment(ctx, req.AppMessageID, req.Caller, req.Fields); err != nil {
				return nil, err
			}
		}
		return nil, s.stream.CompleteStream(ctx, req.AppMessageID, req.Caller)
	default:
		return nil, apperr.InvalidArgument("unknown stream status %q", req.Status).WithApp(req.AppMessageID)
	}
}

func (s *ChatService) MarkSeen(ctx context.Context, viewer models.ObjectRef, messageIDs []string) ([]string, error) {
	return s.control.MarkSeen(ctx, messageIDs, viewer)
}

func (s *ChatService) MarkRead(ctx context.Context, viewer models.ObjectRef, messageIDs []string) ([]string, error) {
	return s.control.MarkRead(ctx, messageIDs, viewer)
}

func (s *ChatService) Revoke(ctx context.Context, actor models.ObjectRef, messageID string) error {
	return s.control.Revoke(ctx, messageID, actor)
}

func (s *ChatService) Edit(ctx context.Context, req control.EditRequest) (*models.MessageVersion, error) {
	return s.control.Edit(ctx, req)
}
