package store

import "time"

// Session is one conversation with one user. Both the HTTP API and the
// TUI run on top of sessions.
type Session struct {
	ID         string
	Username   string
	CreatedAt  time.Time
	LastActive time.Time
	Status     string
	Metadata   map[string]string
}

// Message is a single chat turn within a session. Seq orders turns and
// is assigned by the store.
type Message struct {
	SessionID string
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}

// Artifact represents a file generated during a session: tool outputs,
// memory exports, backup manifests.
type Artifact struct {
	ID        string
	SessionID string
	Name      string
	Path      string // Relative path in the artifact store
	SHA256    string // Content hash
	Size      int64
	CreatedAt time.Time
}

// Summary is an archived context summary. Similarity is only populated
// on search results.
type Summary struct {
	ID         string
	SessionID  string
	Content    string
	CreatedAt  time.Time
	Similarity float32
}

// Storage defines the interface for relational persistence.
type Storage interface {
	// Session management
	CreateSession(session *Session) error
	GetSession(id string) (*Session, error)
	UpdateSession(session *Session) error
	ListSessions() ([]*Session, error)
	DeleteSession(id string) error

	// Message management
	AppendMessage(msg *Message) error
	GetMessages(sessionID string) ([]*Message, error)
	CountMessages(sessionID string) (int, error)
	ClearMessages(sessionID string) error

	// Artifact Management
	// SaveArtifact persists the metadata and the content
	SaveArtifact(artifact *Artifact, content []byte) error
	GetArtifact(id string) (*Artifact, []byte, error)
	ListArtifacts(sessionID string) ([]*Artifact, error)

	// Configuration Management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	// Summary archive
	AddSummary(summary *Summary, embedding []float32) error
	SearchSummaries(embedding []float32, limit int) ([]Summary, error)

	Close() error
}
