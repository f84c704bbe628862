package models

import "time"

// CaseStatus is the free-text workflow state of a case. The constants are the
// values the UI knows about; any string may be stored.
type CaseStatus string

const (
	StatusOpened    CaseStatus = "Opened"
	StatusTriaged   CaseStatus = "Triaged"
	StatusVerified  CaseStatus = "Verified"
	StatusTreating  CaseStatus = "Treating"
	StatusResolved  CaseStatus = "Resolved"
	StatusNeedsInfo CaseStatus = "needsinfo"
)

// KnownStatuses lists the status names accepted when status values are enforced.
var KnownStatuses = []CaseStatus{
	StatusOpened,
	StatusTriaged,
	StatusVerified,
	StatusTreating,
	StatusResolved,
	StatusNeedsInfo,
}

// IsKnown reports whether s is one of KnownStatuses.
func (s CaseStatus) IsKnown() bool {
	for _, k := range KnownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// Case is a patient-submitted health concern.
type Case struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Status              CaseStatus `json:"status"`
	InputText           string     `json:"input_text"`
	InputImage          *string    `json:"input_image"`
	InputVoice          *string    `json:"input_voice"`
	ConversationHistory []Message  `json:"conversation_history"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
