package domain

// Application statuses.
const (
	AppStatusDraft        = "draft"
	AppStatusApplied      = "applied"
	AppStatusInterviewing = "interviewing"
	AppStatusOffered      = "offered"
	AppStatusRejected     = "rejected"
	AppStatusGhosted      = "ghosted"
)

type Application struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Company        string  `json:"company"`
	Role           string  `json:"role"`
	Platform       string  `json:"platform,omitempty"`
	Status         string  `json:"status" enum:"draft,applied,interviewing,offered,rejected,ghosted"`
	Feedback       string  `json:"feedback,omitempty"`
	AppliedAt      string  `json:"applied_at" format:"date-time"`
	LastActivityAt *string `json:"last_activity_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// Interview statuses.
const (
	InterviewStatusScheduled = "scheduled"
	InterviewStatusCompleted = "completed"
	InterviewStatusCancelled = "cancelled"
)

type Interview struct {
	ID            string   `json:"id"`
	UserID        string   `json:"user_id"`
	ApplicationID *string  `json:"application_id,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Status        string   `json:"status" enum:"scheduled,completed,cancelled"`
	Score         *float64 `json:"score,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
	SkillGaps     []string `json:"skill_gaps,omitempty"`
	ScheduledAt   *string  `json:"scheduled_at,omitempty" format:"date-time"`
	CompletedAt   *string  `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

// SkillVerification kinds. Roadmap-module completions share the table with
// verified skills so window counts come from one record shape.
const (
	VerificationKindSkill  = "skill"
	VerificationKindModule = "module"
)

const (
	VerificationStatusPending  = "pending"
	VerificationStatusVerified = "verified"
	VerificationStatusFailed   = "failed"
)

type SkillVerification struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Kind       string  `json:"kind" enum:"skill,module"`
	Skill      string  `json:"skill"`
	Status     string  `json:"status" enum:"pending,verified,failed"`
	VerifiedAt *string `json:"verified_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// Pattern types.
const (
	PatternSkillGapCluster = "skill_gap_cluster"
	PatternDecliningTrend  = "declining_trend"
	PatternStall           = "stall"
	PatternVelocityDrop    = "velocity_drop"
	PatternMilestone       = "milestone"
)

// Severities, also used as directive priorities. Fixed total order
// critical > high > medium > low.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityRank returns the position of a severity in the fixed order,
// higher meaning more severe. Unknown severities rank lowest.
func SeverityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// PatternMatch is an ephemeral finding from one detection pass. It is
// recomputed on every run and never persisted.
type PatternMatch struct {
	Type              string         `json:"type" enum:"skill_gap_cluster,declining_trend,stall,velocity_drop,milestone"`
	Severity          string         `json:"severity" enum:"critical,high,medium,low"`
	Description       string         `json:"description"`
	DetectedAt        string         `json:"detected_at" format:"date-time"`
	Data              map[string]any `json:"data,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
}

type GapSource struct {
	Type      string `json:"type"`
	RecordID  string `json:"record_id"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type SkillGapCluster struct {
	Skill         string      `json:"skill"`
	Occurrences   int         `json:"occurrences"`
	Sources       []GapSource `json:"sources"`
	Severity      string      `json:"severity"`
	FirstDetected string      `json:"first_detected" format:"date-time"`
	LastDetected  string      `json:"last_detected" format:"date-time"`
}

// Trend directions.
const (
	TrendImproving    = "improving"
	TrendStable       = "stable"
	TrendDeclining    = "declining"
	TrendAccelerating = "accelerating"
	TrendDecelerating = "decelerating"
	TrendStalled      = "stalled"
)

// Trend significance levels.
const (
	SignificanceSignificant = "significant"
	SignificanceMarginal    = "marginal"
	SignificanceNoise       = "noise"
)

// TrendAnalysis reports both the regression slope classification and the
// independent first-to-last change percentage. The two answer different
// questions (average rate vs. net change) and may disagree.
type TrendAnalysis struct {
	Metric           string    `json:"metric"`
	Direction        string    `json:"direction"`
	ChangePercentage float64   `json:"change_percentage"`
	DataPoints       []float64 `json:"data_points"`
	Significance     string    `json:"significance" enum:"significant,marginal,noise"`
	PeriodDays       int       `json:"period_days"`
	Slope            float64   `json:"slope"`
	RSquared         float64   `json:"r_squared"`
}

type PeriodMetrics struct {
	Start            string  `json:"start" format:"date-time"`
	End              string  `json:"end" format:"date-time"`
	Applications     int     `json:"applications"`
	Interviews       int     `json:"interviews"`
	Responses        int     `json:"responses"`
	Rejections       int     `json:"rejections"`
	Offers           int     `json:"offers"`
	ModulesCompleted int     `json:"modules_completed"`
	SkillsVerified   int     `json:"skills_verified"`
	ResponseRate     float64 `json:"response_rate"`
	PassRate         float64 `json:"pass_rate"`
}

type MetricTrend struct {
	Metric           string  `json:"metric"`
	Direction        string  `json:"direction"`
	Significance     string  `json:"significance"`
	ChangePercentage float64 `json:"change_percentage"`
	Current          int     `json:"current"`
	Previous         int     `json:"previous"`
}

// Velocity categories.
const (
	VelocityHigh    = "high"
	VelocityMedium  = "medium"
	VelocityLow     = "low"
	VelocityStalled = "stalled"
)

type VelocityReport struct {
	UserID          string        `json:"user_id"`
	Current         PeriodMetrics `json:"current"`
	Previous        PeriodMetrics `json:"previous"`
	Applications    MetricTrend   `json:"applications_trend"`
	Interviews      MetricTrend   `json:"interviews_trend"`
	Progress        MetricTrend   `json:"progress_trend"`
	VelocityScore   float64       `json:"velocity_score"`
	Overall         string        `json:"overall_velocity" enum:"high,medium,low,stalled"`
	Recommendations []string      `json:"recommendations,omitempty"`
	GeneratedAt     string        `json:"generated_at" format:"date-time"`
}

type StallCheck struct {
	Stalled      bool   `json:"stalled"`
	Reason       string `json:"reason,omitempty"`
	DaysInactive int    `json:"days_inactive"`
}

// Hope tiers.
const (
	TierHealthy = "healthy"
	TierAtRisk  = "at_risk"
	TierGhosted = "ghosted"
)

// HopeScore is computed at query time; it is never persisted as its own row.
type HopeScore struct {
	ApplicationID     string  `json:"application_id"`
	Company           string  `json:"company"`
	Platform          string  `json:"platform,omitempty"`
	Score             float64 `json:"score"`
	Tier              string  `json:"tier" enum:"healthy,at_risk,ghosted"`
	DaysSinceApplied  int     `json:"days_since_applied"`
	DaysSinceActivity int     `json:"days_since_activity"`
}

type HopeReport struct {
	UserID          string         `json:"user_id"`
	AverageScore    float64        `json:"average_score"`
	Healthy         int            `json:"healthy"`
	AtRisk          int            `json:"at_risk"`
	Ghosted         int            `json:"ghosted"`
	Scores          []HopeScore    `json:"scores,omitempty"`
	GhostedBySource map[string]int `json:"ghosted_by_platform,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	GeneratedAt     string         `json:"generated_at" format:"date-time"`
}

// Intervention actions.
const (
	ActionRepathRoadmap   = "REPATH_ROADMAP"
	ActionRequestPractice = "REQUEST_PRACTICE"
	ActionNotifyUser      = "NOTIFY_USER"
	ActionCelebrate       = "CELEBRATE"
	ActionNoAction        = "NO_ACTION"
)

// Intervention urgencies.
const (
	UrgencyImmediate      = "immediate"
	UrgencySoon           = "soon"
	UrgencyWhenConvenient = "when_convenient"
)

type InterventionDecision struct {
	Action  string         `json:"action"`
	Reason  string         `json:"reason"`
	Urgency string         `json:"urgency" enum:"immediate,soon,when_convenient"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Directive types.
const (
	DirectiveFocusShift          = "focus_shift"
	DirectiveSkillPriority       = "skill_priority"
	DirectiveApplicationStrategy = "application_strategy"
	DirectiveMarketResponse      = "market_response"
	DirectiveRejectionInsight    = "rejection_insight"
	DirectiveGhostingResponse    = "ghosting_response"
	DirectiveSuccessPattern      = "success_pattern"
	DirectiveRoadmapAdjustment   = "roadmap_adjustment"
	DirectivePauseApplications   = "pause_applications"
	DirectiveResumeRewrite       = "resume_rewrite"
	DirectiveOther               = "other"
)

// DirectiveTypes lists every valid directive type.
var DirectiveTypes = []string{
	DirectiveFocusShift,
	DirectiveSkillPriority,
	DirectiveApplicationStrategy,
	DirectiveMarketResponse,
	DirectiveRejectionInsight,
	DirectiveGhostingResponse,
	DirectiveSuccessPattern,
	DirectiveRoadmapAdjustment,
	DirectivePauseApplications,
	DirectiveResumeRewrite,
	DirectiveOther,
}

// Directive statuses. pending -> active -> {completed, failed};
// {pending, active} -> cancelled | superseded. Terminal states are never left.
const (
	DirectivePending    = "pending"
	DirectiveActive     = "active"
	DirectiveCompleted  = "completed"
	DirectiveCancelled  = "cancelled"
	DirectiveFailed     = "failed"
	DirectiveSuperseded = "superseded"
)

type Directive struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Type           string  `json:"type"`
	Priority       string  `json:"priority" enum:"critical,high,medium,low"`
	Status         string  `json:"status" enum:"pending,active,completed,cancelled,failed,superseded"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Reasoning      *string `json:"reasoning,omitempty"`
	Target         *string `json:"target,omitempty"`
	ActionRequired *string `json:"action_required,omitempty"`
	ContextJSON    *string `json:"context_json,omitempty"`
	IssuedAt       string  `json:"issued_at" format:"date-time"`
	ExecutedAt     *string `json:"executed_at,omitempty" format:"date-time"`
	ExpiresAt      *string `json:"expires_at,omitempty" format:"date-time"`
	Result         *string `json:"result,omitempty"`
	ImpactJSON     *string `json:"impact_metrics_json,omitempty"`
}

// Execution log statuses.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// ExecutionLog is an append-only audit row, one per execution attempt.
type ExecutionLog struct {
	ID              string  `json:"id"`
	DirectiveID     string  `json:"directive_id"`
	ExecutedBy      string  `json:"executed_by"`
	ExecutionStatus string  `json:"execution_status" enum:"running,completed,failed"`
	Logs            *string `json:"logs,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ExecutionTimeMS *int64  `json:"execution_time_ms,omitempty"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Run records one orchestration pass for observability.
type Run struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	Status           string  `json:"status" enum:"running,completed,partial,failed"`
	Patterns         int     `json:"patterns"`
	Decisions        int     `json:"decisions"`
	DirectivesIssued int     `json:"directives_issued"`
	Notes            *string `json:"notes,omitempty"`
	StartedAt        string  `json:"started_at" format:"date-time"`
	FinishedAt       *string `json:"finished_at,omitempty" format:"date-time"`
}
