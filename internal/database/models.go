package database

import (
	"encoding/json"
	"time"
)

// ============================================================================
// DATA MODELS
// ============================================================================

// Conversation statuses.
const (
	ConversationActive    = "active"
	ConversationCompleted = "completed"
	ConversationArchived  = "archived"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Document statuses.
const (
	UploadUploading = "uploading"
	UploadCompleted = "completed"
	UploadFailed    = "failed"

	OCRPending    = "pending"
	OCRProcessing = "processing"
	OCRCompleted  = "completed"
	OCRFailed     = "failed"
)

// Lawyer connection statuses.
const (
	ConnectionPending   = "pending"
	ConnectionAccepted  = "accepted"
	ConnectionRejected  = "rejected"
	ConnectionCancelled = "cancelled"
)

// Notification types.
const (
	NotifyNewMessage     = "new_message"
	NotifySummaryReady   = "summary_ready"
	NotifyLawyerResponse = "lawyer_response"
	NotifyLawyerAssigned = "lawyer_assigned"
	NotifyCaseUpdated    = "case_updated"
)

// User is a registered client of the intake platform. Password and push
// token never leave the server.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	HashedPassword string     `json:"-"`
	FullName       string     `json:"full_name"`
	Address        *string    `json:"address,omitempty"`
	Locale         string     `json:"locale"`
	Timezone       *string    `json:"timezone,omitempty"`
	PushToken      *string    `json:"-"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	IsActive       bool       `json:"is_active"`
	IsVerified     bool       `json:"is_verified"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Conversation is one intake dialogue. RemoteConversationID is the handle of
// the mirrored conversation at the agent platform; it is written once when
// the first turn opens the remote stream and never changes afterwards.
// The fact_* columns accumulate the 5W facts the agents collect via tool
// calls; classification fields stay nil until the analysis agent reports.
type Conversation struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	Title                string          `json:"title"`
	Status               string          `json:"status"`
	CurrentAgent         string          `json:"current_agent"`
	RemoteConversationID *string         `json:"-"`
	FactWho              json.RawMessage `json:"fact_who,omitempty"`
	FactWhat             json.RawMessage `json:"fact_what,omitempty"`
	FactWhen             json.RawMessage `json:"fact_when,omitempty"`
	FactWhere            json.RawMessage `json:"fact_where,omitempty"`
	FactWhy              json.RawMessage `json:"fact_why,omitempty"`
	AnalysisDone         bool            `json:"analysis_done"`
	SummaryGenerated     bool            `json:"summary_generated"`
	WrapupConfirmed      bool            `json:"wrapup_confirmed"`
	LegalArea            *string         `json:"legal_area,omitempty"`
	CaseStrength         *string         `json:"case_strength,omitempty"`
	Urgency              *string         `json:"urgency,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Message is one dialogue entry. Rows are immutable; ordering is
// (created_at, id). Content holds the user's literal text, never the
// augmented prompt sent to the agent platform.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	AgentName      *string         `json:"agent_name,omitempty"`
	FunctionCall   json.RawMessage `json:"function_call,omitempty"`
	DocumentIDs    []string        `json:"document_ids,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Document is an uploaded attachment. upload_status=completed implies a
// non-empty storage key.
type Document struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Filename       string    `json:"filename"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int64     `json:"size_bytes"`
	StorageKey     *string   `json:"-"`
	DownloadURL    *string   `json:"download_url,omitempty"`
	UploadStatus   string    `json:"upload_status"`
	OCRStatus      string    `json:"ocr_status"`
	OCRText        *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary is the generated case dossier. At most one per conversation,
// enforced by a unique constraint on conversation_id.
type Summary struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	UserID          string    `json:"user_id"`
	Content         string    `json:"content"`
	ReferenceNumber string    `json:"reference_number"`
	MarkdownKey     string    `json:"-"`
	PDFKey          string    `json:"-"`
	PDFURL          string    `json:"pdf_url"`
	LegalArea       *string   `json:"legal_area,omitempty"`
	CaseStrength    *string   `json:"case_strength,omitempty"`
	Urgency         *string   `json:"urgency,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LawyerConnection tracks a forwarding of a case to a directory lawyer.
// ExternalCaseID binds once on the first accepted response and is never
// overwritten.
type LawyerConnection struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	ConversationID   string     `json:"conversation_id"`
	SummaryID        *string    `json:"summary_id,omitempty"`
	LawyerID         string     `json:"lawyer_id"`
	LawyerName       string     `json:"lawyer_name"`
	Message          *string    `json:"message,omitempty"`
	Status           string     `json:"status"`
	ExternalCaseID   *string    `json:"external_case_id,omitempty"`
	LawyerResponseAt *time.Time `json:"lawyer_response_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Notification is a queued push event, delivered over the SSE stream.
// read flips false→true only; read_at is set exactly when read becomes true.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
