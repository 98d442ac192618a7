// Package memory implements the store contracts in process. It backs tests
// and single-node runs started without PostgreSQL or MongoDB.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

type state struct {
	seqs    map[string]*models.Seq // by message id
	order   map[string]int         // insertion order, for tie breaks
	convs   map[string]*models.Conversation
	convKey map[string]string
	members map[string][]models.ObjectRef
	nextOrd int
}

func newState() *state {
	return &state{
		seqs:    make(map[string]*models.Seq),
		order:   make(map[string]int),
		convs:   make(map[string]*models.Conversation),
		convKey: make(map[string]string),
		members: make(map[string][]models.ObjectRef),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.seqs {
		c.seqs[k] = v.Clone()
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	for k, v := range s.convs {
		cv := *v
		c.convs[k] = &cv
	}
	for k, v := range s.convKey {
		c.convKey[k] = v
	}
	for k, v := range s.members {
		c.members[k] = append([]models.ObjectRef(nil), v...)
	}
	c.nextOrd = s.nextOrd
	return c
}

// Store is an in-memory store.Store. Writers are serialized by txMu so a
// transaction sees no interleaved writes and can roll back to a snapshot.
type Store struct {
	ids idgen.Generator

	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	faultMu sync.Mutex
	faults  map[string]error
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.GroupDirectory = (*Store)(nil)
)

func NewStore(ids idgen.Generator) *Store {
	return &Store{ids: ids, st: newState(), faults: make(map[string]error)}
}

func (s *Store) Sequences() store.SequenceStore         { return &seqRepo{s: s} }
func (s *Store) Conversations() store.ConversationStore { return &convRepo{s: s} }

type txView struct{ s *Store }

func (t txView) Sequences() store.SequenceStore         { return &seqRepo{s: t.s, inTx: true} }
func (t txView) Conversations() store.ConversationStore { return &convRepo{s: t.s, inTx: true} }

func (s *Store) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(txView{s: s}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// InjectFault makes the next call of op fail with err. Ops are the
// SequenceStore and ConversationStore method names.
func (s *Store) InjectFault(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err, ok := s.faults[op]
	if ok {
		delete(s.faults, op)
	}
	return err
}

// AddGroupMembers appends members to groupID, skipping ids already present.
func (s *Store) AddGroupMembers(ctx context.Context, groupID string, members ...models.ObjectRef) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.st.members[groupID]
	for _, m := range members {
		dup := false
		for _, e := range existing {
			if e.ID == m.ID {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, m)
		}
	}
	s.st.members[groupID] = existing
	return nil
}

// Count returns the number of stored Seq rows.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.seqs)
}

// write runs fn under the data lock, taking the writer lock unless the
// caller already holds it through a transaction.
func (s *Store) write(inTx bool, fn func(st *state) error) error {
	if !inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

type seqRepo struct {
	s    *Store
	inTx bool
}

func (r *seqRepo) CreateSequence(ctx context.Context, seq *models.Seq) error {
	return r.BatchCreateSeq(ctx, []*models.Seq{seq})
}

func (r *seqRepo) BatchCreateSeq(ctx context.Context, seqs []*models.Seq) error {
	if err := r.s.fault("BatchCreateSeq"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, seq := range seqs {
		if err := models.ValidateSeqStatus(seq.Status); err != nil {
			return err
		}
	}
	return r.s.write(r.inTx, func(st *state) error {
		for _, seq := range seqs {
			if _, dup := st.seqs[seq.MessageID]; dup {
				return apperr.InvalidArgument("duplicate message id %s", seq.MessageID)
			}
		}
		for _, seq := range seqs {
			if seq.CreatedAt.IsZero() {
				seq.CreatedAt = now
			}
			if seq.UpdatedAt.IsZero() {
				seq.UpdatedAt = seq.CreatedAt
			}
			st.seqs[seq.MessageID] = seq.Clone()
			st.order[seq.MessageID] = st.nextOrd
			st.nextOrd++
		}
		return nil
	})
}

func (r *seqRepo) GetSeqByMessageID(ctx context.Context, messageID string) (*models.Seq, error) {
	var out *models.Seq
	err := r.s.read(func(st *state) error {
		seq, ok := st.seqs[messageID]
		if !ok {
			return apperr.NotFound("seq not found").WithSeq(0, messageID)
		}
		out = seq.Clone()
		return nil
	})
	return out, err
}

func (r *seqRepo) LockSeqForUpdate(ctx context.Context, messageID string) (*models.Seq, error) {
	return r.GetSeqByMessageID(ctx, messageID)
}

// sorted returns matching rows ordered by seq id then insertion order.
func sorted(st *state, match func(*models.Seq) bool) []*models.Seq {
	var out []*models.Seq
	for _, seq := range st.seqs {
		if match(seq) {
			out = append(out, seq)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeqID != out[j].SeqID {
			return out[i].SeqID < out[j].SeqID
		}
		return st.order[out[i].MessageID] < st.order[out[j].MessageID]
	})
	return out
}

func (r *seqRepo) ListByDelightfulMessageID(ctx context.Context, delightfulMessageID string) ([]*models.Seq, error) {
	var out []*models.Seq
	err := r.s.read(func(st *state) error {
		for _, seq := range sorted(st, func(s *models.Seq) bool { return s.DelightfulMessageID == delightfulMessageID }) {
			out = append(out, seq.Clone())
		}
		return nil
	})
	return out, err
}

func (r *seqRepo) GetMinSeqListByDelightfulMessageID(ctx context.Context, delightfulMessageID string) ([]*models.Seq, error) {
	all, err := r.ListByDelightfulMessageID(ctx, delightfulMessageID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(all))
	out := make([]*models.Seq, 0, len(all))
	for _, seq := range all {
		if _, ok := seen[seq.ObjectID]; ok {
			continue
		}
		seen[seq.ObjectID] = struct{}{}
		out = append(out, seq)
	}
	return out, nil
}

func (r *seqRepo) FindByAppMessageID(ctx context.Context, appMessageID, objectID string, types []models.MessageType) (*models.Seq, error) {
	var out *models.Seq
	err := r.s.read(func(st *state) error {
		rows := sorted(st, func(s *models.Seq) bool {
			return s.AppMessageID == appMessageID && s.ObjectID == objectID && hasType(types, s.SeqType)
		})
		if len(rows) == 0 {
			return apperr.NotFound("no seq for app message").WithApp(appMessageID)
		}
		out = rows[0].Clone()
		return nil
	})
	return out, err
}

func hasType(types []models.MessageType, t models.MessageType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func (r *seqRepo) ExistsControlSeq(ctx context.Context, objectID string, seqType models.MessageType, referMessageID string) (bool, error) {
	found := false
	err := r.s.read(func(st *state) error {
		for _, seq := range st.seqs {
			if seq.ObjectID == objectID && seq.SeqType == seqType && seq.ReferMessageID == referMessageID {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *seqRepo) UpdateSeqStatus(ctx context.Context, messageIDs []string, status models.SeqStatus) (int64, error) {
	if err := r.s.fault("UpdateSeqStatus"); err != nil {
		return 0, err
	}
	var n int64
	err := r.s.write(r.inTx, func(st *state) error {
		now := time.Now().UTC()
		for _, id := range messageIDs {
			seq, ok := st.seqs[id]
			if !ok || !models.CanTransition(seq.Status, status) {
				continue
			}
			seq.Status = status
			seq.UpdatedAt = now
			n++
		}
		return nil
	})
	return n, err
}

func (r *seqRepo) UpdateReceiveList(ctx context.Context, messageID string, list *models.ReceiveList) error {
	return r.s.write(r.inTx, func(st *state) error {
		seq, ok := st.seqs[messageID]
		if !ok {
			return apperr.NotFound("seq not found").WithSeq(0, messageID)
		}
		seq.ReceiveList = list.Clone()
		seq.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r *seqRepo) UpdateSeqExtra(ctx context.Context, messageIDs []string, extra models.SeqExtra) error {
	return r.s.write(r.inTx, func(st *state) error {
		now := time.Now().UTC()
		for _, id := range messageIDs {
			seq, ok := st.seqs[id]
			if !ok {
				continue
			}
			seq.Extra = extra
			if extra.EditOptions != nil {
				eo := *extra.EditOptions
				seq.Extra.EditOptions = &eo
			}
			seq.UpdatedAt = now
		}
		return nil
	})
}

type convRepo struct {
	s    *Store
	inTx bool
}

func convKey(ownerID, peerID string, t models.ConversationType) string {
	return ownerID + "|" + peerID + "|" + string(t)
}

func (r *convRepo) GetOrCreate(ctx context.Context, owner, peer models.ObjectRef, convType models.ConversationType) (*models.Conversation, error) {
	if err := r.s.fault("GetOrCreate"); err != nil {
		return nil, err
	}
	var out models.Conversation
	err := r.s.write(r.inTx, func(st *state) error {
		key := convKey(owner.ID, peer.ID, convType)
		if id, ok := st.convKey[key]; ok {
			out = *st.convs[id]
			return nil
		}
		now := time.Now().UTC()
		c := &models.Conversation{
			ID:                      r.s.ids.NextString(),
			UserID:                  owner.ID,
			UserType:                owner.Type,
			UserOrganizationCode:    owner.OrganizationCode,
			ReceiveID:               peer.ID,
			ReceiveType:             convType,
			ReceiveOrganizationCode: peer.OrganizationCode,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		st.convs[c.ID] = c
		st.convKey[key] = c.ID
		out = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *convRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var out models.Conversation
	err := r.s.read(func(st *state) error {
		c, ok := st.convs[id]
		if !ok {
			return apperr.NotFound("conversation not found").WithConversation(id)
		}
		out = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Hide marks a window hidden, the way a client closing a chat would.
func (s *Store) Hide(id string) {
	_ = s.write(false, func(st *state) error {
		if c, ok := st.convs[id]; ok {
			c.IsHidden = true
		}
		return nil
	})
}

func (r *convRepo) Unhide(ctx context.Context, id string) error {
	return r.s.write(r.inTx, func(st *state) error {
		c, ok := st.convs[id]
		if !ok {
			return apperr.NotFound("conversation not found").WithConversation(id)
		}
		if c.IsHidden {
			c.IsHidden = false
			c.UpdatedAt = time.Now().UTC()
		}
		return nil
	})
}

func (r *convRepo) ListGroupMemberIDs(ctx context.Context, groupID, excludeID string) ([]models.ObjectRef, error) {
	if err := r.s.fault("ListGroupMemberIDs"); err != nil {
		return nil, err
	}
	var out []models.ObjectRef
	err := r.s.read(func(st *state) error {
		for _, m := range st.members[groupID] {
			if m.ID != excludeID {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}
