package flux

// Job state codes used by the scheduler's job-list service. They form a
// bitmask but a job is only ever in one state at a time.
const (
	StateDepend   int64 = 1
	StatePriority int64 = 2
	StateSched    int64 = 4
	StateRun      int64 = 8
	StateCleanup  int64 = 16
	StateInactive int64 = 32
)

// StateString maps the scheduler's numeric state code to the stable string
// enum exposed on the API. Every pre-run state collapses to PENDING.
func StateString(code int64) string {
	switch code {
	case StateDepend, StatePriority, StateSched:
		return "PENDING"
	case StateRun:
		return "RUNNING"
	case StateCleanup:
		return "CLEANUP"
	case StateInactive:
		return "INACTIVE"
	}
	return "UNKNOWN"
}

// JobRecord mirrors one entry of the scheduler's job listing.
type JobRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	State      int64     `json:"state"`
	Username   string    `json:"username"`
	NNodes     int       `json:"nnodes"`
	NTasks     int       `json:"ntasks"`
	Result     string    `json:"result"`
	ReturnCode int       `json:"returncode"`
	Runtime    float64   `json:"runtime"`
	Priority   int       `json:"priority"`
	WaitStatus int       `json:"waitstatus"`
	Nodelist   string    `json:"nodelist"`
	Ranks      string    `json:"ranks"`
	Expiration float64   `json:"expiration"`
	Duration   float64   `json:"duration"`
	TSubmit    float64   `json:"t_submit"`
	TRun       float64   `json:"t_run"`
	TInactive  float64   `json:"t_inactive"`
	Exception  Exception `json:"exception"`
}

// Exception carries the scheduler's fatal-exception detail for a job, when any.
type Exception struct {
	Occurred bool   `json:"occurred"`
	Severity int    `json:"severity"`
	Type     string `json:"type"`
	Note     string `json:"note"`
}

type jobListing struct {
	Jobs []JobRecord `json:"jobs"`
}

// Event is one line of the scheduler's NDJSON event stream, as produced by
// an event watch on a job's output channel.
type Event struct {
	Timestamp float64      `json:"timestamp"`
	Name      string       `json:"name"`
	Context   EventContext `json:"context"`
}

type EventContext struct {
	Stream string `json:"stream,omitempty"`
	Rank   string `json:"rank,omitempty"`
	Data   string `json:"data,omitempty"`
}

// Credential is the OS identity a scheduler command should run under.
// A nil credential means the gateway's own (privileged) identity.
type Credential struct {
	UID uint32
	GID uint32
}
