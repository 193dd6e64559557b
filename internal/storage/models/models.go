package models

import (
	"encoding/json"
	"time"
)

type Client struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description *string   `json:"description,omitempty"`
	Industry    *string   `json:"industry,omitempty"`
	Logo        *string   `json:"logo,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AxisType string

const (
	AxisTypeText        AxisType = "text"
	AxisTypeSelect      AxisType = "select"
	AxisTypeMultiselect AxisType = "multiselect"
)

type AxisCategory string

const (
	AxisCategoryOrganizational AxisCategory = "organizational"
	AxisCategoryDemographic    AxisCategory = "demographic"
)

type AnalysisAxis struct {
	ID        string       `json:"id"`
	Name      string       `json:"name" validate:"required"`
	Type      AxisType     `json:"type" validate:"required,oneof=text select multiselect"`
	Options   []string     `json:"options"`
	Required  bool         `json:"required"`
	Order     int          `json:"order"`
	Category  AxisCategory `json:"category" validate:"required,oneof=organizational demographic"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ClientAnalysisAxis enables a global axis for one client.
type ClientAnalysisAxis struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id" validate:"required"`
	AxisID   string `json:"axis_id" validate:"required"`
	Enabled  bool   `json:"enabled"`
	Order    *int   `json:"order,omitempty"`
}

// ClientSpecificAxis is a client-owned copy of an axis definition.
type ClientSpecificAxis struct {
	AnalysisAxis
	ClientID     string  `json:"client_id" validate:"required"`
	SourceAxisID *string `json:"source_axis_id,omitempty"`
}

type QuestionnaireSession struct {
	ID                  string         `json:"id"`
	ClientID            string         `json:"client_id" validate:"required"`
	Name                string         `json:"name" validate:"required,max=200"`
	StartDate           time.Time      `json:"start_date"`
	EndDate             *time.Time     `json:"end_date,omitempty"`
	IsActive            bool           `json:"is_active"`
	ShortURL            string         `json:"short_url"`
	PlannedParticipants *int           `json:"planned_participants,omitempty" validate:"omitempty,gte=0"`
	FrozenAnalysisAxes  []AnalysisAxis `json:"frozen_analysis_axes"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type RespondentProfile struct {
	ID            string               `json:"id"`
	SessionID     string               `json:"session_id" validate:"required"`
	AxisResponses map[string]AxisValue `json:"axis_responses"`
	CreatedAt     time.Time            `json:"created_at"`
}

type SessionResponse struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id" validate:"required"`
	RespondentProfileID string    `json:"respondent_profile_id" validate:"required"`
	QuestionID          int64     `json:"question_id" validate:"required,gt=0"`
	Answer              Culture   `json:"answer" validate:"required,oneof=A B C D"`
	CreatedAt           time.Time `json:"created_at"`
}

type Question struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text" validate:"required"`
	Domaine   string    `json:"domaine" validate:"required"`
	Order     int       `json:"order"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Setting struct {
	Key       string          `json:"key" validate:"required"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CultureScore struct {
	Culture    Culture `json:"culture"`
	Count      int     `json:"count"`
	Percentage int     `json:"percentage"`
}

// SessionResults is a cached snapshot; it can always be rebuilt from the
// session's responses and profiles.
type SessionResults struct {
	SessionID           string                    `json:"session_id"`
	TotalResponses      int                       `json:"total_responses"`
	TotalAnswers        int                       `json:"total_answers"`
	CultureDistribution []CultureScore            `json:"culture_distribution"`
	RespondentBreakdown map[string]map[string]int `json:"respondent_breakdown"`
	CreatedAt           time.Time                 `json:"created_at"`
}

type DomainAnalysis struct {
	SessionID      string    `json:"session_id"`
	Domaine        string    `json:"domaine"`
	RadarX         float64   `json:"radar_x"`
	RadarY         float64   `json:"radar_y"`
	CountA         int       `json:"count_a"`
	CountB         int       `json:"count_b"`
	CountC         int       `json:"count_c"`
	CountD         int       `json:"count_d"`
	TotalResponses int       `json:"total_responses"`
	CreatedAt      time.Time `json:"created_at"`
}

type RespondentResults struct {
	SessionID           string         `json:"session_id"`
	RespondentProfileID string         `json:"respondent_profile_id"`
	TotalResponses      int            `json:"total_responses"`
	TotalAnswers        int            `json:"total_answers"`
	CultureDistribution []CultureScore `json:"culture_distribution"`
	CreatedAt           time.Time      `json:"created_at"`
}

type ChangeDirection string

const (
	ChangeIncrease ChangeDirection = "increase"
	ChangeDecrease ChangeDirection = "decrease"
	ChangeStable   ChangeDirection = "stable"
)

type CultureChange struct {
	Culture            Culture         `json:"culture"`
	Session1Percentage int             `json:"session1_percentage"`
	Session2Percentage int             `json:"session2_percentage"`
	ChangePercentage   int             `json:"change_percentage"`
	ChangeDirection    ChangeDirection `json:"change_direction"`
}

type TotalEvolution struct {
	TotalResponsesChange int      `json:"total_responses_change"`
	ResponseRateChange   *float64 `json:"response_rate_change,omitempty"`
	Session1ResponseRate *float64 `json:"session1_response_rate,omitempty"`
	Session2ResponseRate *float64 `json:"session2_response_rate,omitempty"`
}

type SessionComparison struct {
	Session1ID     string          `json:"session1_id"`
	Session2ID     string          `json:"session2_id"`
	CultureChanges []CultureChange `json:"culture_changes"`
	TotalEvolution TotalEvolution  `json:"total_evolution"`
}
