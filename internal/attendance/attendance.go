// Package attendance owns the student roster, the daily ledger, and the
// check-in rules that connect them.
package attendance

// Status classifies a ledger entry.
type Status string

const (
	StatusPresent    Status = "present"
	StatusLate       Status = "late"
	StatusSick       Status = "sick"
	StatusPermission Status = "permission"
)

// Layouts for the date keys and entry times used across the ledger.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Student is one roster entry. The id is the identity key and never changes.
type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

// Roster is the persisted student collection.
type Roster struct {
	Students []Student `json:"students"`
}

// Find returns the student with the given id.
func (r Roster) Find(id string) (Student, bool) {
	for _, s := range r.Students {
		if s.ID == id {
			return s, true
		}
	}
	return Student{}, false
}

// Record is one ledger entry.
type Record struct {
	Name   string `json:"name"`
	Time   string `json:"time"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Book is the attendance ledger: date -> student id -> record. At most one
// record exists per (date, student) pair.
type Book map[string]map[string]Record

// Set writes the record for (date, studentID), allocating day maps as
// needed. Callers decide whether an existing record may be replaced.
func (b Book) Set(date, studentID string, rec Record) {
	day := b[date]
	if day == nil {
		day = make(map[string]Record)
		b[date] = day
	}
	day[studentID] = rec
}
