package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the timestamp format used by the chat export files.
const TimeLayout = "2006-01-02 15:04:05"

// RawChatRecord is one record of a chat-history export. Field names follow
// the export's JSON wire format. Records are immutable once received.
type RawChatRecord struct {
	ID          int64          `json:"id"`
	ServerID    string         `json:"MsgSvrID,omitempty"`
	TypeName    string         `json:"type_name"`
	IsSender    int            `json:"is_sender"`
	Talker      string         `json:"talker"`
	RoomName    string         `json:"room_name"`
	Message     string         `json:"msg"`
	MediaSource string         `json:"src,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   string         `json:"CreateTime"`
}

// SpeakerRole identifies who produced a chat message.
type SpeakerRole string

const (
	RoleSelf  SpeakerRole = "self"
	RoleOther SpeakerRole = "other"
)

// Context carries the conversational surroundings of an entry.
type Context struct {
	Talker   string
	RoomName string
}

// Entry is the canonical episodic-memory form of a chat record.
// Entries are never mutated after creation; ownership passes to the
// memory store once submitted.
type Entry struct {
	ID          string
	SpeakerRole SpeakerRole
	Content     string
	Context     Context
	Timestamp   time.Time
	Source      map[string]string
}

func newEntryID() string {
	return uuid.NewString()
}

// ImportReport summarizes one import call. Errors holds per-chunk failure
// messages for operator visibility.
type ImportReport struct {
	Total        int
	Imported     int
	Skipped      int
	FailedChunks int
	Errors       []string
	Duration     time.Duration
}

// Summary renders the report as a short human-readable line.
func (r *ImportReport) Summary() string {
	s := fmt.Sprintf("imported %d of %d records (%d skipped, %d failed chunks) in %s",
		r.Imported, r.Total, r.Skipped, r.FailedChunks, r.Duration.Round(time.Millisecond))
	if len(r.Errors) > 0 {
		s += "\nerrors:\n  " + strings.Join(r.Errors, "\n  ")
	}
	return s
}

// ParseRecords decodes a JSON array of chat records. Anything other than an
// array at the top level is fatal to the whole import.
func ParseRecords(data []byte) ([]RawChatRecord, error) {
	var records []RawChatRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("chat records must be a JSON array: %w", err)
	}
	return records, nil
}

// LoadFile reads and decodes a chat export file.
func LoadFile(path string) ([]RawChatRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read chat export: %w", err)
	}
	return ParseRecords(data)
}
