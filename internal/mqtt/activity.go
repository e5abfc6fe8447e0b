package mqtt

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/anicolao/morpheum/internal/events"
)

// LastTask summarizes the most recently finished task.
type LastTask struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	OK         bool      `json:"ok"`
	Exhausted  bool      `json:"exhausted"`
	Iterations int       `json:"iterations"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// CopilotSession is the latest reported status of a Copilot session.
type CopilotSession struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	Issue      int64  `json:"issue"`
	PR         int64  `json:"pr,omitempty"`
	Status     string `json:"status"`
}

// Activity folds bus events into the published counters. It is safe
// for concurrent use.
type Activity struct {
	mu        sync.Mutex
	active    map[string]struct{}
	completed int64
	today     int64
	day       int
	last      *LastTask
	copilot   *CopilotSession
	provider  string

	loc *time.Location
	now func() time.Time
}

// NewActivity creates an Activity for the given initial provider.
// Daily counts reset at midnight in loc; nil means [time.Local].
func NewActivity(provider string, loc *time.Location) *Activity {
	if loc == nil {
		loc = time.Local
	}
	a := &Activity{
		active:   make(map[string]struct{}),
		provider: provider,
		loc:      loc,
		now:      time.Now,
	}
	a.day = a.now().In(loc).YearDay()
	return a
}

// Apply records e and reports whether any published value changed.
func (a *Activity) Apply(e events.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Kind {
	case events.KindTaskStart:
		if e.Source != events.SourceAgent {
			return false
		}
		a.active[str(e.Data["task_id"])] = struct{}{}
		return true

	case events.KindTaskComplete, events.KindSessionComplete:
		if e.Source != events.SourceAgent {
			return false
		}
		id := str(e.Data["task_id"])
		delete(a.active, id)
		a.rollover()
		a.completed++
		a.today++
		a.last = &LastTask{
			ID:         id,
			Provider:   str(e.Data["provider"]),
			OK:         boolean(e.Data["ok"]),
			Exhausted:  boolean(e.Data["exhausted"]),
			Iterations: int(integer(e.Data["iterations"])),
			ElapsedMS:  integer(e.Data["elapsed_ms"]),
			FinishedAt: e.Timestamp,
		}
		return true

	case events.KindSessionStatus:
		if e.Source != events.SourceCopilot {
			return false
		}
		a.copilot = &CopilotSession{
			ID:         str(e.Data["session"]),
			Repository: str(e.Data["repository"]),
			Issue:      integer(e.Data["issue"]),
			PR:         integer(e.Data["pr"]),
			Status:     str(e.Data["status"]),
		}
		return true

	case events.KindProviderSwitch:
		a.provider = str(e.Data["provider"])
		return true
	}
	return false
}

// rollover zeroes the daily count after local midnight. a.mu must be
// held.
func (a *Activity) rollover() {
	if d := a.now().In(a.loc).YearDay(); d != a.day {
		a.today = 0
		a.day = d
	}
}

// States returns the current value of every state topic, keyed by
// topic suffix.
func (a *Activity) States() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()

	return map[string]string{
		"active_tasks":    strconv.Itoa(len(a.active)),
		"tasks_completed": strconv.FormatInt(a.completed, 10),
		"tasks_today":     strconv.FormatInt(a.today, 10),
		"last_task":       jsonOrNone(a.last),
		"copilot_session": jsonOrNone(a.copilot),
		"provider":        a.provider,
	}
}

func jsonOrNone[T any](v *T) string {
	if v == nil {
		return "none"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "none"
	}
	return string(b)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func integer(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
