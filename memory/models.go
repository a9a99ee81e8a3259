package memory

import (
	"fmt"
	"time"
)

// Kind classifies how durable or general a fact is.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindEpisodic, KindSemantic, KindProcedural}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural:
		return true
	}
	return false
}

// ParseKind validates a raw kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Fact is one durable unit of knowledge about an owner. Facts are never
// deleted; setting InvalidFrom retires them.
type Fact struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Content              string     `json:"content"`
	Embedding            []float32  `json:"-"`
	Kind                 Kind       `json:"kind"`
	Keywords             []string   `json:"keywords,omitempty"`
	ContentHash          string     `json:"content_hash"`
	ValidFrom            time.Time  `json:"valid_from"`
	InvalidFrom          *time.Time `json:"invalid_from,omitempty"`
	SourceConversationID string     `json:"source_conversation_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Active is derived from InvalidFrom and never stored separately.
func (f Fact) Active() bool { return f.InvalidFrom == nil }

// CoreLabel names one of the fixed core profile slots.
type CoreLabel string

const (
	CoreUserProfile         CoreLabel = "user_profile"
	CorePartnerInfo         CoreLabel = "partner_info"
	CoreRelationshipContext CoreLabel = "relationship_context"
	CorePreferences         CoreLabel = "preferences"
)

// CoreLabels is the fixed set of core blocks, in render order.
var CoreLabels = []CoreLabel{CoreUserProfile, CorePartnerInfo, CoreRelationshipContext, CorePreferences}

// Valid reports whether l is one of the four core labels.
func (l CoreLabel) Valid() bool {
	switch l {
	case CoreUserProfile, CorePartnerInfo, CoreRelationshipContext, CorePreferences:
		return true
	}
	return false
}

// CoreBlock is a mutable, unversioned summary slot.
type CoreBlock struct {
	OwnerID   string    `json:"owner_id"`
	Label     CoreLabel `json:"label"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueFailed
}

// QueueItem is one deferred extraction job for a conversation.
type QueueItem struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"owner_id"`
	ConversationID string      `json:"conversation_id"`
	Status         QueueStatus `json:"status"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	ProcessedAt    *time.Time  `json:"processed_at,omitempty"`
}

// SearchResult includes a Fact plus its similarity score.
type SearchResult struct {
	Fact  Fact    `json:"fact"`
	Score float64 `json:"score"`
}

// Message is one role-tagged conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Candidate is a fact proposed by extraction, enriched during reconciliation.
type Candidate struct {
	Content   string
	Kind      Kind
	Keywords  []string
	Embedding []float32
	Similar   []SearchResult
}

// Action is a reconciliation verdict.
type Action string

const (
	ActionAdd        Action = "ADD"
	ActionUpdate     Action = "UPDATE"
	ActionInvalidate Action = "INVALIDATE"
	ActionNoop       Action = "NOOP"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionInvalidate, ActionNoop:
		return true
	}
	return false
}

// Decision applies Action to the candidate at Index. Several decisions may
// reference the same index.
type Decision struct {
	Index    int    `json:"index"`
	Action   Action `json:"action"`
	Content  string `json:"content,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Reason   string `json:"reason"`
}
