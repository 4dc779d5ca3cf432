package importer

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer("wxid_self")

	t.Run("Text Record From Other", func(t *testing.T) {
		entry, err := n.Normalize(RawChatRecord{
			ID:        1,
			TypeName:  "文本",
			IsSender:  0,
			Talker:    "wxid_friend",
			RoomName:  "wxid_friend",
			Message:   "你好",
			CreatedAt: "2025-01-01 00:00:00",
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if entry.SpeakerRole != RoleOther {
			t.Errorf("Expected role other, got %s", entry.SpeakerRole)
		}
		want := "wxid_friend 在 2025-01-01 00:00:00 对我说: 你好"
		if entry.Content != want {
			t.Errorf("Expected %q, got %q", want, entry.Content)
		}
		if entry.Timestamp.Year() != 2025 {
			t.Errorf("Expected parsed timestamp, got %v", entry.Timestamp)
		}
		if entry.ID == "" {
			t.Error("Expected a generated entry id")
		}
	})

	t.Run("Text Record From Self", func(t *testing.T) {
		entry, err := n.Normalize(RawChatRecord{
			ID:        2,
			TypeName:  "文本",
			IsSender:  1,
			Talker:    "wxid_friend",
			RoomName:  "wxid_friend",
			Message:   "在忙",
			CreatedAt: "2025-01-01 08:30:00",
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if entry.SpeakerRole != RoleSelf {
			t.Errorf("Expected role self, got %s", entry.SpeakerRole)
		}
		if !strings.HasPrefix(entry.Content, "我在 2025-01-01 08:30:00 对 wxid_friend 说:") {
			t.Errorf("Unexpected content %q", entry.Content)
		}
	})

	t.Run("Self By Talker Match", func(t *testing.T) {
		entry, err := n.Normalize(RawChatRecord{
			ID:        3,
			TypeName:  "text",
			IsSender:  0,
			Talker:    "wxid_self",
			RoomName:  "group_room",
			Message:   "hello",
			CreatedAt: "2025-02-02 12:00:00",
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if entry.SpeakerRole != RoleSelf {
			t.Errorf("Expected role self via talker match, got %s", entry.SpeakerRole)
		}
	})

	t.Run("Non-Text Skipped", func(t *testing.T) {
		_, err := n.Normalize(RawChatRecord{TypeName: "图片", Message: "x", CreatedAt: "2025-01-01 00:00:00"})
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("Expected ErrUnsupportedType, got %v", err)
		}
	})

	t.Run("Empty Message Skipped", func(t *testing.T) {
		_, err := n.Normalize(RawChatRecord{TypeName: "文本", Message: "   ", CreatedAt: "2025-01-01 00:00:00"})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		if verr.Field != "msg" {
			t.Errorf("Expected field msg, got %s", verr.Field)
		}
	})

	t.Run("Bad Timestamp Skipped", func(t *testing.T) {
		_, err := n.Normalize(RawChatRecord{TypeName: "文本", Message: "hi", CreatedAt: "not-a-time"})
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected ParseError, got %v", err)
		}
		if perr.Value != "not-a-time" {
			t.Errorf("Expected offending value in error, got %s", perr.Value)
		}
	})

	t.Run("Absent Timestamp Defaults To Now", func(t *testing.T) {
		fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.Local)
		nn := &Normalizer{SelfID: "wxid_self", Now: func() time.Time { return fixed }}
		entry, err := nn.Normalize(RawChatRecord{TypeName: "文本", IsSender: 1, RoomName: "r", Message: "hi"})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if !entry.Timestamp.Equal(fixed) {
			t.Errorf("Expected now fallback %v, got %v", fixed, entry.Timestamp)
		}
		if !strings.Contains(entry.Content, "2025-03-04 05:06:07") {
			t.Errorf("Expected formatted now in content, got %q", entry.Content)
		}
	})

	t.Run("Source Carried Through", func(t *testing.T) {
		entry, err := n.Normalize(RawChatRecord{
			ID:        42,
			ServerID:  "660001",
			TypeName:  "文本",
			Talker:    "wxid_friend",
			RoomName:  "room",
			Message:   "hi",
			CreatedAt: "2025-01-01 00:00:00",
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if entry.Source["original_id"] != "42" {
			t.Errorf("Expected original_id 42, got %s", entry.Source["original_id"])
		}
		if entry.Source["server_id"] != "660001" {
			t.Errorf("Expected server_id carried, got %s", entry.Source["server_id"])
		}
		if entry.Source["source"] != "chat_import" {
			t.Errorf("Expected source tag chat_import, got %s", entry.Source["source"])
		}
	})
}

func TestParseRecords(t *testing.T) {
	t.Run("Array", func(t *testing.T) {
		records, err := ParseRecords([]byte(`[{"id":1,"type_name":"文本","msg":"hi","CreateTime":"2025-01-01 00:00:00"}]`))
		if err != nil {
			t.Fatalf("ParseRecords failed: %v", err)
		}
		if len(records) != 1 || records[0].Message != "hi" {
			t.Errorf("Unexpected records: %+v", records)
		}
	})

	t.Run("Non-Array Fatal", func(t *testing.T) {
		if _, err := ParseRecords([]byte(`{"id":1}`)); err == nil {
			t.Error("Expected error for non-array top level")
		}
	})

	t.Run("Garbage Fatal", func(t *testing.T) {
		if _, err := ParseRecords([]byte(`not json`)); err == nil {
			t.Error("Expected error for invalid JSON")
		}
	})
}
