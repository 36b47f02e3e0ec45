package reconcile

import "time"

// Op names an engine command.
type Op string

const (
	OpAddStudent       Op = "add_student"
	OpUpdateStudent    Op = "update_student"
	OpDeleteStudent    Op = "delete_student"
	OpAddCourse        Op = "add_course"
	OpUpdateCourse     Op = "update_course"
	OpDeleteCourse     Op = "delete_course"
	OpEnroll           Op = "enroll"
	OpUnenroll         Op = "unenroll"
	OpSaveAttendance   Op = "save_attendance"
	OpAttendanceBatch  Op = "save_attendance_batch"
	OpDeleteAttendance Op = "delete_attendance"
)

// Ops lists every command, for callers that pre-register per-op state.
var Ops = []Op{
	OpAddStudent, OpUpdateStudent, OpDeleteStudent,
	OpAddCourse, OpUpdateCourse, OpDeleteCourse,
	OpEnroll, OpUnenroll,
	OpSaveAttendance, OpAttendanceBatch, OpDeleteAttendance,
}

// Event describes one finished command.
type Event struct {
	Op       Op            `json:"op"`
	Receipt  Receipt       `json:"-"`
	Err      error         `json:"-"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// Listener observes the engine. Calls are made synchronously on the
// command's goroutine, so implementations must return quickly.
type Listener interface {
	OnCommand(Event)
	OnSync(SyncReport, error)
}

func (e *Engine) snapshotListeners() []Listener {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	return append([]Listener(nil), e.listeners...)
}

func (e *Engine) emitCommand(ev Event) {
	for _, l := range e.snapshotListeners() {
		l.OnCommand(ev)
	}
}

func (e *Engine) emitSync(report SyncReport, err error) {
	for _, l := range e.snapshotListeners() {
		l.OnSync(report, err)
	}
}
