package server

// Request bodies for the HTTP API. Responses reuse the domain structs.

type RunRequest struct {
	UserID string `json:"user_id,omitempty" example:"u-42"`
}

type IssueDirectiveRequest struct {
	UserID         string `json:"user_id,omitempty"`
	Type           string `json:"type" example:"pause_applications"`
	Priority       string `json:"priority,omitempty" enum:"critical,high,medium,low"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
	Target         string `json:"target,omitempty"`
	ActionRequired string `json:"action_required,omitempty"`
	Context        string `json:"context,omitempty" doc:"JSON payload handed to the consuming subsystem"`
	ExpiresAt      string `json:"expires_at,omitempty" format:"date-time"`
	ActorID        string `json:"actor_id,omitempty"`
}

type CancelDirectiveRequest struct {
	Reason  string `json:"reason,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}

type StartExecutionRequest struct {
	ExecutedBy string `json:"executed_by"`
}

type CompleteExecutionRequest struct {
	Success       bool   `json:"success"`
	Result        string `json:"result,omitempty"`
	ImpactMetrics string `json:"impact_metrics,omitempty" doc:"JSON impact payload"`
	Logs          string `json:"logs,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
}

type AddApplicationRequest struct {
	ID             string `json:"id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Company        string `json:"company"`
	Role           string `json:"role"`
	Platform       string `json:"platform,omitempty"`
	Status         string `json:"status,omitempty" enum:"draft,applied,interviewing,offered,rejected,ghosted"`
	Feedback       string `json:"feedback,omitempty"`
	AppliedAt      string `json:"applied_at,omitempty" format:"date-time"`
	LastActivityAt string `json:"last_activity_at,omitempty" format:"date-time"`
}

type AddInterviewRequest struct {
	ID            string   `json:"id,omitempty"`
	UserID        string   `json:"user_id,omitempty"`
	ApplicationID string   `json:"application_id,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Status        string   `json:"status,omitempty" enum:"scheduled,completed,cancelled"`
	Score         *float64 `json:"score,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
	SkillGaps     []string `json:"skill_gaps,omitempty"`
	ScheduledAt   string   `json:"scheduled_at,omitempty" format:"date-time"`
	CompletedAt   string   `json:"completed_at,omitempty" format:"date-time"`
}

type AddVerificationRequest struct {
	ID         string `json:"id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Kind       string `json:"kind,omitempty" enum:"skill,module"`
	Skill      string `json:"skill"`
	Status     string `json:"status,omitempty" enum:"pending,verified,failed"`
	VerifiedAt string `json:"verified_at,omitempty" format:"date-time"`
}
