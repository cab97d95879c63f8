package domain

// Pipeline stages. Won and Lost are terminal.
const (
	StageNew         = "new"
	StageContacted   = "contacted"
	StageQualified   = "qualified"
	StageProposal    = "proposal"
	StageNegotiation = "negotiation"
	StageWon         = "won"
	StageLost        = "lost"
)

// Stages lists every pipeline stage in forward order.
var Stages = []string{StageNew, StageContacted, StageQualified, StageProposal, StageNegotiation, StageWon, StageLost}

// IsStage reports whether s is a defined pipeline stage.
func IsStage(s string) bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminalStage reports whether s is won or lost.
func IsTerminalStage(s string) bool {
	return s == StageWon || s == StageLost
}

type Contact struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Source            string  `json:"source"`
	Stage             string  `json:"stage" enum:"new,contacted,qualified,proposal,negotiation,won,lost"`
	Score             float64 `json:"score"`
	AssignedAgent     *string `json:"assigned_agent,omitempty"`
	LostReason        *string `json:"lost_reason,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	LastInteractionAt *string `json:"last_interaction_at,omitempty" format:"date-time"`
	ScoreUpdatedAt    *string `json:"score_updated_at,omitempty" format:"date-time"`
	StaleFlaggedAt    *string `json:"stale_flagged_at,omitempty" format:"date-time"`
	HotNotifiedAt     *string `json:"hot_notified_at,omitempty" format:"date-time"`
}

// Interaction is one recorded touch with a contact. Rows are append-only:
// never mutated or deleted, the ground truth for scoring and timelines.
type Interaction struct {
	ID         string `json:"id"`
	ContactID  string `json:"contact_id"`
	Type       string `json:"type" enum:"call,email,whatsapp,meeting,note"`
	OccurredAt string `json:"occurred_at" format:"date-time"`
	Payload    string `json:"payload,omitempty"`
	ActorID    string `json:"actor_id"`
}

// Transition is one immutable audit entry for a stage change.
type Transition struct {
	ID          string  `json:"id"`
	ContactID   string  `json:"contact_id"`
	FromStage   string  `json:"from_stage"`
	ToStage     string  `json:"to_stage"`
	LostReason  *string `json:"lost_reason,omitempty"`
	PerformedBy string  `json:"performed_by"`
	PerformedAt string  `json:"performed_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ContactID   *string `json:"contact_id,omitempty"`
	AssignedTo  string  `json:"assigned_to"`
	Title       string  `json:"title"`
	Priority    string  `json:"priority" enum:"low,normal,high"`
	Status      string  `json:"status" enum:"pending,done,overdue"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	EscalatedAt *string `json:"escalated_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// CampaignEvent is one open/click registered against an outbound campaign.
// Deduplicated by (campaign, contact, type, time bucket) so repeated pixel
// hits for a single delivery collapse into one row.
type CampaignEvent struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	ContactID  string `json:"contact_id"`
	Type       string `json:"event_type" enum:"opened,clicked"`
	OccurredAt string `json:"occurred_at" format:"date-time"`
	Bucket     string `json:"-"`
	Metadata   string `json:"metadata,omitempty"`
}

// SweepLease serializes escalation sweeps across instances. A lease past
// its expiry is considered abandoned and may be superseded.
type SweepLease struct {
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
