// Package settings models the admin-editable configuration document and
// resolves the effective attendance window from it.
package settings

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"absensi/internal/store"
)

// Settings is the persisted configuration. The file is user-editable, so
// every reader must tolerate missing or malformed values.
type Settings struct {
	SchoolName          string `json:"school_name"`
	AttendanceStartTime string `json:"attendance_start_time"`
	AttendanceEndTime   string `json:"attendance_end_time"`
	LateTime            string `json:"late_time"`
	ThemeColor          string `json:"theme_color"`
	EnableQR            bool   `json:"enable_qr"`
	EnableLeave         bool   `json:"enable_leave"`
	EnableLateTracking  bool   `json:"enable_late_tracking"`
	TelegramEnabled     bool   `json:"telegram_enabled"`
	TelegramBotToken    string `json:"telegram_bot_token"`
	TelegramAdminChatID string `json:"telegram_admin_chat_id"`
	NotifyCheckin       bool   `json:"telegram_notify_checkin"`
	NotifyLate          bool   `json:"telegram_notify_late"`
	NotifyAbsent        bool   `json:"telegram_notify_absent"`
	NotifyLeave         bool   `json:"telegram_notify_leave"`

	// Extra holds keys from a hand-edited settings file that this version
	// does not model; they survive load/save round trips.
	Extra map[string]json.RawMessage `json:"-"`
}

// Defaults returns the configuration used before an admin saves anything.
func Defaults() Settings {
	return Settings{
		SchoolName:          "Sistem Absensi",
		AttendanceStartTime: "07:00",
		AttendanceEndTime:   "09:00",
		LateTime:            "07:30",
		ThemeColor:          "blue",
		EnableQR:            true,
		EnableLeave:         true,
		EnableLateTracking:  true,
		TelegramEnabled:     false,
		NotifyCheckin:       true,
		NotifyLate:          true,
		NotifyAbsent:        true,
		NotifyLeave:         true,
	}
}

// UnmarshalJSON overlays the document onto whatever values the receiver
// already holds, so loading over Defaults() merges file and defaults. Keys
// the struct does not model are kept in Extra.
func (s *Settings) UnmarshalJSON(b []byte) error {
	type plain Settings
	p := plain(*s)
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	known, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return err
	}

	// Extras already held by the receiver survive an overlay; unmarshaling a
	// partial document over loaded settings must not drop the file's
	// hand-added keys.
	var merged map[string]json.RawMessage
	for k, v := range s.Extra {
		if merged == nil {
			merged = make(map[string]json.RawMessage)
		}
		merged[k] = v
	}
	for k, v := range raw {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		if merged == nil {
			merged = make(map[string]json.RawMessage)
		}
		merged[k] = v
	}
	p.Extra = merged
	*s = Settings(p)
	return nil
}

// MarshalJSON re-emits preserved unknown keys next to the typed fields.
func (s Settings) MarshalJSON() ([]byte, error) {
	type plain Settings
	b, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// TimeOfDay is a wall-clock time with second precision, stored as seconds
// since midnight so comparisons are plain integer comparisons.
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM" settings value.
func ParseTimeOfDay(v string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60), nil
}

// TimeOfDayAt extracts the time of day from a timestamp.
func TimeOfDayAt(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t/3600, t/60%60, t%60)
}

// Window is the effective check-in window and lateness cutoff.
type Window struct {
	Start      TimeOfDay
	End        TimeOfDay
	LateCutoff TimeOfDay
}

// Contains reports whether t falls inside the window, inclusive at both ends.
func (w Window) Contains(t TimeOfDay) bool {
	return t >= w.Start && t <= w.End
}

// DefaultWindow is the hard fallback used when the configured times cannot
// be parsed: 07:00-09:00, late after 07:30.
func DefaultWindow() Window {
	return Window{Start: 7 * 3600, End: 9 * 3600, LateCutoff: 7*3600 + 30*60}
}

// Window derives the attendance window from the configured HH:MM strings.
// Malformed values are a recoverable condition and fall back to
// DefaultWindow; settings are free text edited by admins.
func (s Settings) Window() Window {
	start, err1 := ParseTimeOfDay(s.AttendanceStartTime)
	end, err2 := ParseTimeOfDay(s.AttendanceEndTime)
	late, err3 := ParseTimeOfDay(s.LateTime)
	if err1 != nil || err2 != nil || err3 != nil {
		return DefaultWindow()
	}
	return Window{Start: start, End: end, LateCutoff: late}
}

// Resolver reads and writes the settings collection.
type Resolver struct {
	store *store.Store
}

func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Current returns the persisted settings merged over defaults. Unknown and
// missing keys never fail a read.
func (r *Resolver) Current() Settings {
	s := Defaults()
	if err := store.Load(r.store, store.Settings, &s); err != nil {
		log.Printf("settings: load failed, using defaults: %v", err)
		return Defaults()
	}
	return s
}

// Window returns the effective attendance window.
func (r *Resolver) Window() Window {
	return r.Current().Window()
}

// Update mutates the settings under their lock and persists the result.
func (r *Resolver) Update(fn func(*Settings)) error {
	s := Defaults()
	return store.Update(r.store, store.Settings, &s, func(v *Settings) (bool, error) {
		fn(v)
		return true, nil
	})
}

// Ensure materializes the settings file, merging any existing content with
// current defaults. Called once at startup.
func (r *Resolver) Ensure() error {
	return r.Update(func(*Settings) {})
}
