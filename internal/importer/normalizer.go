package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalizer converts raw chat records into canonical episodic entries.
// SelfID identifies the account whose outgoing messages carry the self
// role; it is explicit configuration, never inferred from the data.
type Normalizer struct {
	SelfID string
	Now    func() time.Time
}

func NewNormalizer(selfID string) *Normalizer {
	return &Normalizer{SelfID: selfID, Now: time.Now}
}

// Normalize validates and transforms one record. It is a pure transform
// with no side effects. ErrUnsupportedType, ValidationError and ParseError
// all mean skip-with-count for the caller, never batch failure.
func (n *Normalizer) Normalize(raw RawChatRecord) (Entry, error) {
	switch raw.TypeName {
	case "文本", "text":
	default:
		return Entry{}, ErrUnsupportedType
	}

	msg := strings.TrimSpace(raw.Message)
	if msg == "" {
		return Entry{}, &ValidationError{Field: "msg"}
	}

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}

	createTime := strings.TrimSpace(raw.CreatedAt)
	var ts time.Time
	if createTime == "" {
		ts = now()
		createTime = ts.Format(TimeLayout)
	} else {
		var err error
		ts, err = time.ParseInLocation(TimeLayout, createTime, time.Local)
		if err != nil {
			return Entry{}, &ParseError{Value: createTime, Err: err}
		}
	}

	role := RoleOther
	if raw.IsSender == 1 || (n.SelfID != "" && raw.Talker == n.SelfID) {
		role = RoleSelf
	}

	var content string
	if role == RoleSelf {
		content = fmt.Sprintf("我在 %s 对 %s 说: %s", createTime, raw.RoomName, msg)
	} else {
		content = fmt.Sprintf("%s 在 %s 对我说: %s", raw.Talker, createTime, msg)
	}

	source := map[string]string{
		"source":      "chat_import",
		"original_id": strconv.FormatInt(raw.ID, 10),
		"talker":      raw.Talker,
		"room_name":   raw.RoomName,
		"create_time": createTime,
	}
	if raw.ServerID != "" {
		source["server_id"] = raw.ServerID
	}

	return Entry{
		ID:          newEntryID(),
		SpeakerRole: role,
		Content:     content,
		Context:     Context{Talker: raw.Talker, RoomName: raw.RoomName},
		Timestamp:   ts,
		Source:      source,
	}, nil
}
