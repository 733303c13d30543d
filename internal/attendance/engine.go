package attendance

import (
	"strings"
	"time"

	"absensi/internal/notify"
	"absensi/internal/settings"
	"absensi/internal/store"
)

// Outcome is the result class of a check-in attempt.
type Outcome string

const (
	OutcomeRecorded        Outcome = "recorded"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
	OutcomeEmptyID         Outcome = "empty_id"
	OutcomeUnknownStudent  Outcome = "unknown_student"
	OutcomeOutsideWindow   Outcome = "outside_window"
)

// Result describes what a check-in attempt did. Status is set only for
// OutcomeRecorded; Student is set whenever the roster lookup succeeded.
type Result struct {
	Outcome Outcome
	Status  Status
	Student Student
}

// Stats is the dashboard summary for one day.
type Stats struct {
	TotalStudents int `json:"total_students"`
	Present       int `json:"present"`
	Absent        int `json:"absent"`
	Late          int `json:"late"`
}

// Engine applies the check-in rules against the roster and the ledger.
type Engine struct {
	store    *store.Store
	settings *settings.Resolver
	events   notify.Sink
}

// NewEngine creates an engine. events may be nil when notifications are not
// wired (tests, maintenance commands).
func NewEngine(st *store.Store, res *settings.Resolver, events notify.Sink) *Engine {
	return &Engine{store: st, settings: res, events: events}
}

// CheckIn records the student's presence for the day of now.
//
// The window is inclusive at both ends; lateness is strictly after the
// cutoff, so a check-in exactly at the cutoff counts as on time. A second
// attempt on the same date never overwrites the first record.
func (e *Engine) CheckIn(studentID string, now time.Time) (Result, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return Result{Outcome: OutcomeEmptyID}, nil
	}

	var roster Roster
	if err := store.Load(e.store, store.Students, &roster); err != nil {
		return Result{}, err
	}
	student, ok := roster.Find(studentID)
	if !ok {
		return Result{Outcome: OutcomeUnknownStudent}, nil
	}

	cfg := e.settings.Current()
	win := cfg.Window()
	tod := settings.TimeOfDayAt(now)
	if !win.Contains(tod) {
		return Result{Outcome: OutcomeOutsideWindow, Student: student}, nil
	}

	status := StatusPresent
	if cfg.EnableLateTracking && tod > win.LateCutoff {
		status = StatusLate
	}

	today := now.Format(DateLayout)
	res := Result{Outcome: OutcomeRecorded, Status: status, Student: student}
	var book Book
	err := store.Update(e.store, store.Attendance, &book, func(b *Book) (bool, error) {
		if *b == nil {
			*b = make(Book)
		}
		if _, dup := (*b)[today][studentID]; dup {
			res = Result{Outcome: OutcomeAlreadyRecorded, Student: student}
			return false, nil
		}
		b.Set(today, studentID, Record{
			Name:   student.Name,
			Time:   now.Format(TimeLayout),
			Status: status,
		})
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	// Dispatched after the ledger lock is released; delivery failures never
	// roll back a recorded check-in.
	if res.Outcome == OutcomeRecorded && e.events != nil {
		e.events.Publish(notify.Event{
			Kind:        notify.KindCheckIn,
			StudentID:   student.ID,
			StudentName: student.Name,
			Status:      string(status),
			Date:        today,
			Time:        now.Format(TimeLayout),
		})
	}
	return res, nil
}

// TodayRecords returns the ledger entries for the day of now.
func (e *Engine) TodayRecords(now time.Time) (map[string]Record, error) {
	var book Book
	if err := store.Load(e.store, store.Attendance, &book); err != nil {
		return nil, err
	}
	day := book[now.Format(DateLayout)]
	if day == nil {
		day = map[string]Record{}
	}
	return day, nil
}

// TodayStats derives the dashboard counters for the day of now.
func (e *Engine) TodayStats(now time.Time) (Stats, error) {
	var roster Roster
	if err := store.Load(e.store, store.Students, &roster); err != nil {
		return Stats{}, err
	}
	day, err := e.TodayRecords(now)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalStudents: len(roster.Students),
		Present:       len(day),
		Absent:        len(roster.Students) - len(day),
	}
	for _, rec := range day {
		if rec.Status == StatusLate {
			st.Late++
		}
	}
	return st, nil
}

// Ledger returns the full attendance book, for exports.
func (e *Engine) Ledger() (Book, error) {
	var book Book
	if err := store.Load(e.store, store.Attendance, &book); err != nil {
		return nil, err
	}
	if book == nil {
		book = make(Book)
	}
	return book, nil
}

// AbsenteeSummary builds the end-of-window absentee report for the day of
// now. It returns nil when every registered student has a ledger entry.
func (e *Engine) AbsenteeSummary(now time.Time) (*notify.Event, error) {
	var roster Roster
	if err := store.Load(e.store, store.Students, &roster); err != nil {
		return nil, err
	}
	day, err := e.TodayRecords(now)
	if err != nil {
		return nil, err
	}

	var absent []notify.AbsentEntry
	for _, s := range roster.Students {
		if _, ok := day[s.ID]; !ok {
			absent = append(absent, notify.AbsentEntry{ID: s.ID, Name: s.Name})
		}
	}
	if len(absent) == 0 {
		return nil, nil
	}
	return &notify.Event{
		Kind:    notify.KindAbsentSummary,
		Date:    now.Format(DateLayout),
		Total:   len(roster.Students),
		Present: len(day),
		Absent:  absent,
	}, nil
}
