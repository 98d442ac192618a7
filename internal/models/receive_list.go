package models

// ReceiveList partitions the recipients of a chat message by delivery state.
// It lives only on the sender's own Seq, and a user id occupies exactly one
// of the three lists at a time.
type ReceiveList struct {
	UnreadList []string `json:"unread_list"`
	SeenList   []string `json:"seen_list"`
	ReadList   []string `json:"read_list"`
}

// NewReceiveList places every distinct recipient in the unread list.
func NewReceiveList(recipients []string) *ReceiveList {
	seen := make(map[string]struct{}, len(recipients))
	unread := make([]string, 0, len(recipients))
	for _, id := range recipients {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unread = append(unread, id)
	}
	return &ReceiveList{UnreadList: unread, SeenList: []string{}, ReadList: []string{}}
}

// StateOf returns which list holds id.
func (r *ReceiveList) StateOf(id string) (SeqStatus, bool) {
	switch {
	case contains(r.UnreadList, id):
		return SeqStatusUnread, true
	case contains(r.SeenList, id):
		return SeqStatusSeen, true
	case contains(r.ReadList, id):
		return SeqStatusRead, true
	}
	return "", false
}

// Move shifts id forward to the list for status to. Backward moves and ids
// that are not recipients are ignored; the return value reports a change.
func (r *ReceiveList) Move(id string, to SeqStatus) bool {
	from, ok := r.StateOf(id)
	if !ok || from == to || !CanTransition(from, to) {
		return false
	}
	switch from {
	case SeqStatusUnread:
		r.UnreadList = remove(r.UnreadList, id)
	case SeqStatusSeen:
		r.SeenList = remove(r.SeenList, id)
	}
	switch to {
	case SeqStatusSeen:
		r.SeenList = append(r.SeenList, id)
	case SeqStatusRead:
		r.ReadList = append(r.ReadList, id)
	default:
		return false
	}
	return true
}

// Members returns every recipient regardless of state.
func (r *ReceiveList) Members() []string {
	out := make([]string, 0, r.Len())
	out = append(out, r.UnreadList...)
	out = append(out, r.SeenList...)
	out = append(out, r.ReadList...)
	return out
}

func (r *ReceiveList) Len() int {
	return len(r.UnreadList) + len(r.SeenList) + len(r.ReadList)
}

func (r *ReceiveList) Clone() *ReceiveList {
	if r == nil {
		return nil
	}
	return &ReceiveList{
		UnreadList: append([]string{}, r.UnreadList...),
		SeenList:   append([]string{}, r.SeenList...),
		ReadList:   append([]string{}, r.ReadList...),
	}
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
