package models

import (
	"encoding/json"
	"time"
)

// MessageView is the client projection of a logical message at its current version.
type MessageView struct {
	DelightfulMessageID string          `json:"delightful_message_id"`
	Type                MessageType     `json:"type"`
	Content             json.RawMessage `json:"content"`
	SenderID            string          `json:"sender_id"`
	SenderType          ObjectType      `json:"sender_type"`
	SendTime            time.Time       `json:"send_time"`
	VersionID           string          `json:"version_id,omitempty"`
	Edited              bool            `json:"edited,omitempty"`
}

// ClientSeqView is what a client receives for one Seq: the rendering plus,
// for chat types, the message content it points at.
type ClientSeqView struct {
	SeqID               int64           `json:"seq_id,string"`
	ObjectID            string          `json:"object_id"`
	ObjectType          ObjectType      `json:"object_type"`
	SeqType             MessageType     `json:"seq_type"`
	MessageID           string          `json:"message_id"`
	DelightfulMessageID string          `json:"delightful_message_id,omitempty"`
	ReferMessageID      string          `json:"refer_message_id,omitempty"`
	SenderMessageID     string          `json:"sender_message_id,omitempty"`
	ConversationID      string          `json:"conversation_id"`
	AppMessageID        string          `json:"app_message_id,omitempty"`
	Status              SeqStatus       `json:"status"`
	TopicID             string          `json:"topic_id,omitempty"`
	ReceiveList         *ReceiveList    `json:"receive_list,omitempty"`
	Content             json.RawMessage `json:"content,omitempty"`
	Message             *MessageView    `json:"message,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// NewClientSeqView joins a Seq with its Message. msg may be nil for control Seqs.
func NewClientSeqView(seq *Seq, msg *Message) (*ClientSeqView, error) {
	v := &ClientSeqView{
		SeqID:               seq.SeqID,
		ObjectID:            seq.ObjectID,
		ObjectType:          seq.ObjectType,
		SeqType:             seq.SeqType,
		MessageID:           seq.MessageID,
		DelightfulMessageID: seq.DelightfulMessageID,
		ReferMessageID:      seq.ReferMessageID,
		SenderMessageID:     seq.SenderMessageID,
		ConversationID:      seq.ConversationID,
		AppMessageID:        seq.AppMessageID,
		Status:              seq.Status,
		TopicID:             seq.Extra.TopicID,
		ReceiveList:         seq.ReceiveList.Clone(),
		CreatedAt:           seq.CreatedAt,
	}
	if seq.Content != nil {
		raw, err := EncodeContent(seq.Content)
		if err != nil {
			return nil, err
		}
		v.Content = raw
	}
	if msg != nil {
		raw, err := EncodeContent(msg.Content)
		if err != nil {
			return nil, err
		}
		v.Message = &MessageView{
			DelightfulMessageID: msg.DelightfulMessageID,
			Type:                msg.MessageType,
			Content:             raw,
			SenderID:            msg.SenderID,
			SenderType:          msg.SenderType,
			SendTime:            msg.SendTime,
			VersionID:           msg.CurrentVersionID,
			Edited:              seq.Extra.EditOptions != nil,
		}
	}
	return v, nil
}
