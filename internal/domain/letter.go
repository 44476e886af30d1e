// Package domain defines the persistence models for letters and the value
// types that flow through the approval workflow. These types are mapped with
// GORM and shared across the repository, workflow and service layers.
package domain

import (
	"time"
)

// Status is the lifecycle state of a letter.
type Status string

const (
	StatusNew        Status = "new"
	StatusAnalyzing  Status = "analyzing"
	StatusInProgress Status = "in_progress"
	StatusDraftReady Status = "draft_ready"
	StatusInApproval Status = "in_approval"
	StatusApproved   Status = "approved"
	StatusSent       Status = "sent"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusNew,
	StatusAnalyzing,
	StatusInProgress,
	StatusDraftReady,
	StatusInApproval,
	StatusApproved,
	StatusSent,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool { return s == StatusSent }

// Active reports whether the letter still counts against its SLA.
func (s Status) Active() bool {
	switch s {
	case StatusApproved, StatusSent:
		return false
	}
	return true
}

// LetterType is the category assigned by the classification step.
type LetterType string

const (
	TypeInfoRequest     LetterType = "info_request"
	TypeComplaint       LetterType = "complaint"
	TypeRegulatory      LetterType = "regulatory"
	TypePartnership     LetterType = "partnership"
	TypeApprovalRequest LetterType = "approval_request"
	TypeNotification    LetterType = "notification"
	TypeOther           LetterType = "other"
)

// FormalityLevel is the tone the drafted response should use.
type FormalityLevel string

const (
	FormalityStrictOfficial FormalityLevel = "strict_official"
	FormalityCorporate      FormalityLevel = "corporate"
	FormalityNeutral        FormalityLevel = "neutral"
	FormalityClientOriented FormalityLevel = "client_oriented"
)

// Priority levels; lower is more urgent.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Risk is one entry of the risk list produced by classification.
type Risk struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Level       string `json:"level,omitempty"`
}

// ApprovalStage is one planned department sign-off.
type ApprovalStage struct {
	Department  string   `json:"department"`
	Reason      string   `json:"reason"`
	Checkpoints []string `json:"checkpoints"`
}

// ApprovalComment records a single approver decision. Comments are only
// ever appended; Round ties a comment to the approval attempt it belongs to.
type ApprovalComment struct {
	Department string    `json:"department"`
	Comment    string    `json:"comment"`
	Approved   bool      `json:"approved"`
	Timestamp  time.Time `json:"timestamp"`
	Round      int       `json:"round"`
	ActorID    string    `json:"actor_id,omitempty"`
}

// Letter is a unit of inbound correspondence and its full mutable workflow
// state.
//
// Fields:
//   - ID: autoincrement primary key, immutable.
//   - Subject/Body/Sender*: content set at ingestion, never changed.
//   - LetterType..DraftResponses: classification output, absent until analysis.
//   - Status..ApprovalComments: lifecycle state owned by the workflow engine.
//   - ReservedBy/ReservedAt: the approver claim; both set or both nil.
//   - Deadline: created_at + sla_hours unless DeadlineOverridden.
//   - Version: bumped on every write; used for optimistic compare-and-set.
//   - UpdatedAt: stamped by the repo from the injected clock, not by GORM.
type Letter struct {
	ID          int64  `json:"id"           gorm:"primaryKey;autoIncrement"`
	Subject     string `json:"subject"      gorm:"type:varchar(500);not null"`
	Body        string `json:"body"         gorm:"type:text;not null"`
	SenderEmail string `json:"sender_email" gorm:"type:varchar(255)"`
	SenderName  string `json:"sender_name"  gorm:"type:varchar(255)"`

	LetterType          LetterType        `json:"letter_type,omitempty"          gorm:"type:varchar(32);index"`
	FormalityLevel      FormalityLevel    `json:"formality_level,omitempty"      gorm:"type:varchar(32)"`
	Priority            int               `json:"priority"                       gorm:"not null;default:2;check:priority IN (1,2,3)"`
	SLAHours            *int              `json:"sla_hours,omitempty"`
	ClassificationData  map[string]any    `json:"classification_data,omitempty"  gorm:"type:text;serializer:json"`
	ExtractedEntities   map[string]any    `json:"extracted_entities,omitempty"   gorm:"type:text;serializer:json"`
	Risks               []Risk            `json:"risks,omitempty"                gorm:"type:text;serializer:json"`
	RequiredDepartments []string          `json:"required_departments,omitempty" gorm:"type:text;serializer:json"`
	DraftResponses      map[string]string `json:"draft_responses,omitempty"      gorm:"type:text;serializer:json"`

	Status           Status            `json:"status"                      gorm:"type:varchar(20);not null;default:'new';index:idx_letters_status_reserved,priority:1"`
	SelectedResponse string            `json:"selected_response,omitempty" gorm:"type:text"`
	FinalResponse    string            `json:"final_response,omitempty"    gorm:"type:text"`
	ApprovalRoute    []ApprovalStage   `json:"approval_route"              gorm:"type:text;serializer:json"`
	ApprovalRound    int               `json:"approval_round"              gorm:"not null;default:0"`
	CurrentApprover  *string           `json:"current_approver"            gorm:"type:varchar(100)"`
	ApprovalComments []ApprovalComment `json:"approval_comments"           gorm:"type:text;serializer:json"`

	ReservedBy *string    `json:"reserved_by"  gorm:"type:varchar(64);index:idx_letters_status_reserved,priority:2"`
	ReservedAt *time.Time `json:"reserved_at"`

	Deadline           *time.Time `json:"deadline"`
	DeadlineOverridden bool       `json:"deadline_overridden" gorm:"not null;default:false"`

	Version   int64     `json:"version"    gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

// TableName returns the database table name for Letter.
func (Letter) TableName() string { return "letters" }

// IsNotification reports whether the letter needs no authored response.
func (l *Letter) IsNotification() bool { return l.LetterType == TypeNotification }

// Reserved reports whether an approver holds the claim.
func (l *Letter) Reserved() bool { return l.ReservedBy != nil }

// Approver returns the current approving department or "".
func (l *Letter) Approver() string {
	if l.CurrentApprover == nil {
		return ""
	}
	return *l.CurrentApprover
}

// SetReservation sets or clears the reservation pair together.
func (l *Letter) SetReservation(actorID string, at time.Time) {
	id := actorID
	ts := at
	l.ReservedBy = &id
	l.ReservedAt = &ts
}

// ClearReservation drops the claim.
func (l *Letter) ClearReservation() {
	l.ReservedBy = nil
	l.ReservedAt = nil
}

// SetApprover sets current_approver; an empty department clears it.
func (l *Letter) SetApprover(department string) {
	if department == "" {
		l.CurrentApprover = nil
		return
	}
	d := department
	l.CurrentApprover = &d
}

// Clone returns a deep copy so callers can mutate without aliasing the
// original's slices and maps.
func (l *Letter) Clone() *Letter {
	if l == nil {
		return nil
	}
	c := *l
	if l.SLAHours != nil {
		v := *l.SLAHours
		c.SLAHours = &v
	}
	if l.CurrentApprover != nil {
		v := *l.CurrentApprover
		c.CurrentApprover = &v
	}
	if l.ReservedBy != nil {
		v := *l.ReservedBy
		c.ReservedBy = &v
	}
	if l.ReservedAt != nil {
		v := *l.ReservedAt
		c.ReservedAt = &v
	}
	if l.Deadline != nil {
		v := *l.Deadline
		c.Deadline = &v
	}
	c.ClassificationData = cloneAnyMap(l.ClassificationData)
	c.ExtractedEntities = cloneAnyMap(l.ExtractedEntities)
	if l.Risks != nil {
		c.Risks = append([]Risk(nil), l.Risks...)
	}
	if l.RequiredDepartments != nil {
		c.RequiredDepartments = append([]string(nil), l.RequiredDepartments...)
	}
	if l.DraftResponses != nil {
		c.DraftResponses = make(map[string]string, len(l.DraftResponses))
		for k, v := range l.DraftResponses {
			c.DraftResponses[k] = v
		}
	}
	if l.ApprovalRoute != nil {
		c.ApprovalRoute = make([]ApprovalStage, len(l.ApprovalRoute))
		for i, s := range l.ApprovalRoute {
			s.Checkpoints = append([]string(nil), s.Checkpoints...)
			c.ApprovalRoute[i] = s
		}
	}
	if l.ApprovalComments != nil {
		c.ApprovalComments = append([]ApprovalComment(nil), l.ApprovalComments...)
	}
	return &c
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
