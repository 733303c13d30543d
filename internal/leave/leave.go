// Package leave owns the leave-request lifecycle: submission, the pending
// queue, and admin approval or rejection.
package leave

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"absensi/internal/attendance"
	"absensi/internal/notify"
	"absensi/internal/store"
)

// Type of a leave request.
type Type string

const (
	TypeSick       Type = "sick"
	TypePermission Type = "permission"
)

// Status of a leave request. Pending transitions to approved or rejected
// exactly once; both are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

const resolvedAtLayout = "2006-01-02 15:04:05"

// Request is one leave request. Requests are never deleted.
type Request struct {
	ID          string `json:"id"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Type        Type   `json:"type"`
	Reason      string `json:"reason"`
	Status      Status `json:"status"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	ApprovedAt  string `json:"approved_at,omitempty"`
	RejectedBy  string `json:"rejected_by,omitempty"`
	RejectedAt  string `json:"rejected_at,omitempty"`
}

// Doc is the persisted leave queue.
type Doc struct {
	Leaves []Request `json:"leaves"`
}

// Errors surfaced by the workflow.
var (
	ErrEmptyField      = errors.New("all fields are required")
	ErrInvalidType     = errors.New("invalid leave type")
	ErrUnknownStudent  = errors.New("student id not registered")
	ErrNotFound        = errors.New("leave request not found")
	ErrAlreadyResolved = errors.New("leave request already resolved")
)

// Workflow coordinates the leave queue with the roster and the ledger.
type Workflow struct {
	store  *store.Store
	events notify.Sink
}

// NewWorkflow creates a workflow. events may be nil.
func NewWorkflow(st *store.Store, events notify.Sink) *Workflow {
	return &Workflow{store: st, events: events}
}

// newID derives a request id from the submission time; the uuid fragment
// keeps two submissions inside the same second distinct.
func newID(now time.Time) string {
	return "LV" + now.Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// Submit files a new request with status pending. A student may hold several
// pending requests for the same date; deduplicating them is a product
// decision that has not been made.
func (w *Workflow) Submit(studentID string, typ Type, reason string, now time.Time) (Request, error) {
	studentID = strings.TrimSpace(studentID)
	reason = strings.TrimSpace(reason)
	if studentID == "" || reason == "" || typ == "" {
		return Request{}, ErrEmptyField
	}
	if typ != TypeSick && typ != TypePermission {
		return Request{}, ErrInvalidType
	}

	var roster attendance.Roster
	if err := store.Load(w.store, store.Students, &roster); err != nil {
		return Request{}, err
	}
	student, ok := roster.Find(studentID)
	if !ok {
		return Request{}, ErrUnknownStudent
	}

	req := Request{
		ID:          newID(now),
		StudentID:   student.ID,
		StudentName: student.Name,
		Date:        now.Format(attendance.DateLayout),
		Time:        now.Format(attendance.TimeLayout),
		Type:        typ,
		Reason:      reason,
		Status:      StatusPending,
	}
	var doc Doc
	err := store.Update(w.store, store.Leaves, &doc, func(d *Doc) (bool, error) {
		d.Leaves = append(d.Leaves, req)
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}

	if w.events != nil {
		w.events.Publish(notify.Event{
			Kind:        notify.KindLeaveRequest,
			StudentID:   student.ID,
			StudentName: student.Name,
			LeaveType:   string(typ),
			Reason:      reason,
			Date:        req.Date,
			Time:        req.Time,
		})
	}
	return req, nil
}

// Approve marks the request approved and writes the matching ledger entry.
// This is the one operation spanning two collections; both writes happen
// under a single transaction, ledger first, so a failure before the leave
// save leaves the request pending and retryable.
func (w *Workflow) Approve(id, approver string, now time.Time) error {
	return w.resolve(id, approver, now, true)
}

// Reject marks the request rejected. The ledger is never touched.
func (w *Workflow) Reject(id, rejector string, now time.Time) error {
	return w.resolve(id, rejector, now, false)
}

func (w *Workflow) resolve(id, actor string, now time.Time, approve bool) error {
	return w.store.Txn(func(tx *store.Txn) error {
		var doc Doc
		if err := store.LoadTx(tx, store.Leaves, &doc); err != nil {
			return err
		}
		idx := -1
		for i := range doc.Leaves {
			if doc.Leaves[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		req := &doc.Leaves[idx]
		if req.Status != StatusPending {
			return ErrAlreadyResolved
		}

		stamp := now.Format(resolvedAtLayout)
		if approve {
			req.Status = StatusApproved
			req.ApprovedBy = actor
			req.ApprovedAt = stamp

			var book attendance.Book
			if err := store.LoadTx(tx, store.Attendance, &book); err != nil {
				return err
			}
			if book == nil {
				book = make(attendance.Book)
			}
			// Approval is the authoritative status for that day: this is the
			// one place a prior record for (date, student) may be replaced.
			book.Set(req.Date, req.StudentID, attendance.Record{
				Name:   req.StudentName,
				Time:   req.Time,
				Status: ledgerStatus(req.Type),
				Reason: req.Reason,
			})
			if err := store.SaveTx(tx, store.Attendance, book); err != nil {
				return err
			}
		} else {
			req.Status = StatusRejected
			req.RejectedBy = actor
			req.RejectedAt = stamp
		}
		return store.SaveTx(tx, store.Leaves, doc)
	}, store.Leaves, store.Attendance)
}

func ledgerStatus(t Type) attendance.Status {
	if t == TypeSick {
		return attendance.StatusSick
	}
	return attendance.StatusPermission
}

// All returns every request, oldest first.
func (w *Workflow) All() ([]Request, error) {
	var doc Doc
	if err := store.Load(w.store, store.Leaves, &doc); err != nil {
		return nil, err
	}
	return doc.Leaves, nil
}

// ByStatus returns the requests currently in the given state.
func (w *Workflow) ByStatus(s Status) ([]Request, error) {
	all, err := w.All()
	if err != nil {
		return nil, err
	}
	var out []Request
	for _, r := range all {
		if r.Status == s {
			out = append(out, r)
		}
	}
	return out, nil
}

// Pending returns the requests awaiting resolution.
func (w *Workflow) Pending() ([]Request, error) {
	return w.ByStatus(StatusPending)
}
