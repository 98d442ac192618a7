package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/models"
)

const seqColumns = `seq_id, organization_code, object_type, object_id, seq_type, content,
	unread_list, seen_list, read_list, app_message_id, delightful_message_id, message_id,
	refer_message_id, sender_message_id, conversation_id, status, extra, created_at, updated_at`

type seqRepo struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeq(row rowScanner) (*models.Seq, error) {
	var (
		seq                    models.Seq
		objectType, seqType    string
		status                 string
		content, extra         []byte
		unread, seen, readList pq.StringArray
	)
	err := row.Scan(
		&seq.SeqID, &seq.OrganizationCode, &objectType, &seq.ObjectID, &seqType, &content,
		&unread, &seen, &readList, &seq.AppMessageID, &seq.DelightfulMessageID, &seq.MessageID,
		&seq.ReferMessageID, &seq.SenderMessageID, &seq.ConversationID, &status, &extra,
		&seq.CreatedAt, &seq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	seq.ObjectType = models.ObjectType(objectType)
	seq.SeqType = models.MessageType(seqType)
	seq.Status = models.SeqStatus(status)
	if err := models.ValidateSeqStatus(seq.Status); err != nil {
		return nil, fmt.Errorf("scan seq %s: %w", seq.MessageID, err)
	}

	if len(content) > 0 && string(content) != "null" {
		seq.Content, err = models.DecodeContent(seq.SeqType, content)
		if err != nil {
			return nil, err
		}
	}
	if unread != nil || seen != nil || readList != nil {
		seq.ReceiveList = &models.ReceiveList{
			UnreadList: nonNil(unread),
			SeenList:   nonNil(seen),
			ReadList:   nonNil(readList),
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &seq.Extra); err != nil {
			return nil, fmt.Errorf("decode seq extra: %w", err)
		}
	}
	return &seq, nil
}

func nonNil(a pq.StringArray) []string {
	if a == nil {
		return []string{}
	}
	return []string(a)
}

func listArgs(rl *models.ReceiveList) (unread, seen, read any) {
	if rl == nil {
		return pq.StringArray(nil), pq.StringArray(nil), pq.StringArray(nil)
	}
	return pq.StringArray(nonNil(rl.UnreadList)), pq.StringArray(nonNil(rl.SeenList)), pq.StringArray(nonNil(rl.ReadList))
}

func (r *seqRepo) CreateSequence(ctx context.Context, seq *models.Seq) error {
	return r.BatchCreateSeq(ctx, []*models.Seq{seq})
}

// batchRows keeps one INSERT under the 65535 bind parameter limit.
const batchRows = 1000

// BatchCreateSeq inserts rows with multi-row INSERTs. Callers wanting
// all-or-nothing run it inside a transaction.
func (r *seqRepo) BatchCreateSeq(ctx context.Context, seqs []*models.Seq) error {
	for _, seq := range seqs {
		if err := models.ValidateSeqStatus(seq.Status); err != nil {
			return err
		}
	}
	for start := 0; start < len(seqs); start += batchRows {
		end := start + batchRows
		if end > len(seqs) {
			end = len(seqs)
		}
		if err := r.insertRows(ctx, seqs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *seqRepo) insertRows(ctx context.Context, seqs []*models.Seq) error {
	const perRow = 19
	var (
		b    strings.Builder
		args = make([]any, 0, len(seqs)*perRow)
		now  = time.Now().UTC()
	)
	b.WriteString("INSERT INTO delightful_seq (" + seqColumns + ") VALUES ")
	for i, seq := range seqs {
		if seq.CreatedAt.IsZero() {
			seq.CreatedAt = now
		}
		if seq.UpdatedAt.IsZero() {
			seq.UpdatedAt = seq.CreatedAt
		}
		content, err := models.EncodeContent(seq.Content)
		if err != nil {
			return err
		}
		var contentArg any
		if content != nil {
			contentArg = string(content)
		}
		extra, err := json.Marshal(seq.Extra)
		if err != nil {
			return err
		}
		unread, seen, read := listArgs(seq.ReceiveList)

		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := 0; j < perRow; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*perRow+j+1)
		}
		b.WriteString(")")
		args = append(args,
			seq.SeqID, seq.OrganizationCode, string(seq.ObjectType), seq.ObjectID, string(seq.SeqType), contentArg,
			unread, seen, read, seq.AppMessageID, seq.DelightfulMessageID, seq.MessageID,
			seq.ReferMessageID, seq.SenderMessageID, seq.ConversationID, string(seq.Status), string(extra),
			seq.CreatedAt, seq.UpdatedAt,
		)
	}
	if _, err := r.q.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert seq batch: %w", err)
	}
	return nil
}

func (r *seqRepo) getOne(ctx context.Context, query, messageID string) (*models.Seq, error) {
	seq, err := scanSeq(r.q.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("seq not found").WithSeq(0, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("load seq %s: %w", messageID, err)
	}
	return seq, nil
}

func (r *seqRepo) GetSeqByMessageID(ctx context.Context, messageID string) (*models.Seq, error) {
	return r.getOne(ctx, `SELECT `+seqColumns+` FROM delightful_seq WHERE message_id = $1`, messageID)
}

func (r *seqRepo) LockSeqForUpdate(ctx context.Context, messageID string) (*models.Seq, error) {
	return r.getOne(ctx, `SELECT `+seqColumns+` FROM delightful_seq WHERE message_id = $1 FOR UPDATE`, messageID)
}

func (r *seqRepo) list(ctx context.Context, query string, args ...any) ([]*models.Seq, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Seq
	for rows.Next() {
		seq, err := scanSeq(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (r *seqRepo) ListByDelightfulMessageID(ctx context.Context, delightfulMessageID string) ([]*models.Seq, error) {
	return r.list(ctx, `SELECT `+seqColumns+` FROM delightful_seq
		WHERE delightful_message_id = $1 ORDER BY seq_id, created_at`, delightfulMessageID)
}

func (r *seqRepo) GetMinSeqListByDelightfulMessageID(ctx context.Context, delightfulMessageID string) ([]*models.Seq, error) {
	return r.list(ctx, `SELECT DISTINCT ON (object_id) `+seqColumns+` FROM delightful_seq
		WHERE delightful_message_id = $1 ORDER BY object_id, seq_id, created_at`, delightfulMessageID)
}

func (r *seqRepo) FindByAppMessageID(ctx context.Context, appMessageID, objectID string, types []models.MessageType) (*models.Seq, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	seq, err := scanSeq(r.q.QueryRowContext(ctx, `SELECT `+seqColumns+` FROM delightful_seq
		WHERE app_message_id = $1 AND object_id = $2 AND seq_type = ANY($3)
		ORDER BY seq_id LIMIT 1`, appMessageID, objectID, pq.Array(names)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("no seq for app message").WithApp(appMessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("find seq by app message id: %w", err)
	}
	return seq, nil
}

func (r *seqRepo) ExistsControlSeq(ctx context.Context, objectID string, seqType models.MessageType, referMessageID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM delightful_seq
		WHERE object_id = $1 AND seq_type = $2 AND refer_message_id = $3)`,
		objectID, string(seqType), referMessageID).Scan(&exists)
	return exists, err
}

func (r *seqRepo) UpdateSeqStatus(ctx context.Context, messageIDs []string, status models.SeqStatus) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	from := models.StatusesBefore(status)
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}
	res, err := r.q.ExecContext(ctx, `UPDATE delightful_seq SET status = $1, updated_at = NOW()
		WHERE message_id = ANY($2) AND status = ANY($3)`,
		string(status), pq.Array(messageIDs), pq.Array(names))
	if err != nil {
		return 0, fmt.Errorf("update seq status: %w", err)
	}
	return res.RowsAffected()
}

func (r *seqRepo) UpdateReceiveList(ctx context.Context, messageID string, list *models.ReceiveList) error {
	unread, seen, read := listArgs(list)
	res, err := r.q.ExecContext(ctx, `UPDATE delightful_seq
		SET unread_list = $1, seen_list = $2, read_list = $3, updated_at = NOW()
		WHERE message_id = $4`, unread, seen, read, messageID)
	if err != nil {
		return fmt.Errorf("update receive list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("seq not found").WithSeq(0, messageID)
	}
	return nil
}

func (r *seqRepo) UpdateSeqExtra(ctx context.Context, messageIDs []string, extra models.SeqExtra) error {
	if len(messageIDs) == 0 {
		return nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `UPDATE delightful_seq SET extra = $1, updated_at = NOW()
		WHERE message_id = ANY($2)`, string(raw), pq.Array(messageIDs)); err != nil {
		return fmt.Errorf("update seq extra: %w", err)
	}
	return nil
}
