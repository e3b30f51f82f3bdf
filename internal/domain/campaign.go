package domain

import (
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignReady     CampaignStatus = "READY"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// campaignTransitions is the allowed campaign state machine. Any state may
// additionally move to FAILED on a terminal error.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:   {CampaignReady, CampaignFailed},
	CampaignReady:   {CampaignRunning, CampaignPaused, CampaignFailed},
	CampaignRunning: {CampaignCompleted, CampaignPaused, CampaignFailed},
	CampaignPaused:  {CampaignRunning, CampaignFailed},
}

// CanTransition reports whether a campaign may move from one status to another.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the campaign is in a final state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// Campaign drives outbound delivery for one topic/template/segment triple.
type Campaign struct {
	ID                 int64          `json:"id" db:"id"`
	Topic              string         `json:"topic" db:"topic"`
	TemplateID         int64          `json:"template_id" db:"template_id"`
	SegmentID          *int64         `json:"segment_id" db:"segment_id"`
	ScheduleTime       *time.Time     `json:"schedule_time" db:"schedule_time"`
	Status             CampaignStatus `json:"status" db:"status"`
	RateLimitPerSecond int            `json:"rate_limit_per_second" db:"rate_limit_per_second"`
	QuietHoursStart    string         `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd      string         `json:"quiet_hours_end" db:"quiet_hours_end"`
	Timezone           string         `json:"timezone" db:"timezone"`

	// MaterializeCursor is the last committed segment cursor, persisted so a
	// re-trigger of a RUNNING campaign resumes instead of duplicating rows.
	MaterializeCursor string `json:"-" db:"materialize_cursor"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// QuietWindow is a wall-clock window in a named time zone during which
// dispatch is forbidden. Overnight is derived when end < start.
type QuietWindow struct {
	Start time.Duration // offset from midnight, local wall clock
	End   time.Duration
	Loc   *time.Location
}

// ParseQuietWindow builds a QuietWindow from "HH:MM" strings and an IANA zone
// name. Empty start or end means no quiet hours and returns (nil, nil). An
// empty zone defaults to UTC.
func ParseQuietWindow(start, end, zone string) (*QuietWindow, error) {
	if start == "" || end == "" {
		return nil, nil
	}
	s, err := parseWallClock(start)
	if err != nil {
		return nil, fmt.Errorf("quiet hours start: %w", err)
	}
	e, err := parseWallClock(end)
	if err != nil {
		return nil, fmt.Errorf("quiet hours end: %w", err)
	}
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("quiet hours zone: %w", err)
	}
	return &QuietWindow{Start: s, End: e, Loc: loc}, nil
}

func parseWallClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Overnight reports whether the window wraps midnight (end < start).
func (w *QuietWindow) Overnight() bool { return w.End < w.Start }

// Contains reports whether now falls inside the quiet window. The boundary
// semantics are [start, end): an attempt exactly at the window end is allowed.
func (w *QuietWindow) Contains(now time.Time) bool {
	local := now.In(w.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Loc)
	offset := local.Sub(midnight)

	if w.Overnight() {
		return offset >= w.Start || offset < w.End
	}
	return offset >= w.Start && offset < w.End
}

// NextAllowed returns the earliest instant at or after now that is outside
// the quiet window. Returns now unchanged when now is already allowed.
func (w *QuietWindow) NextAllowed(now time.Time) time.Time {
	if !w.Contains(now) {
		return now
	}
	local := now.In(w.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Loc)
	offset := local.Sub(midnight)

	end := midnight.Add(w.End)
	if w.Overnight() && offset >= w.Start {
		// In the evening half of an overnight window; the end is tomorrow.
		end = end.Add(24 * time.Hour)
	}
	return end
}
