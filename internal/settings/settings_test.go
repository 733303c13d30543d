package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"absensi/internal/store"
)

func TestMergeKeepsDefaultsForMissingKeys(t *testing.T) {
	s := Defaults()
	if err := json.Unmarshal([]byte(`{"school_name":"SMA 1","enable_qr":false}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if s.SchoolName != "SMA 1" {
		t.Errorf("school_name = %q", s.SchoolName)
	}
	if s.EnableQR {
		t.Error("enable_qr should be overridden to false")
	}
	if s.AttendanceStartTime != "07:00" {
		t.Errorf("missing key lost its default: %q", s.AttendanceStartTime)
	}
	if !s.NotifyCheckin {
		t.Error("missing bool key lost its true default")
	}
}

func TestUnknownKeysSurviveRoundTrip(t *testing.T) {
	s := Defaults()
	in := `{"school_name":"SMA 1","future_flag":{"nested":true}}`
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := s.Extra["future_flag"]; !ok {
		t.Fatalf("unknown key not captured: %+v", s.Extra)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["future_flag"]; !ok {
		t.Fatal("unknown key dropped on save")
	}
	if _, ok := m["school_name"]; !ok {
		t.Fatal("typed key missing from output")
	}
}

func TestUnknownKeysSurviveOverlay(t *testing.T) {
	s := Defaults()
	if err := json.Unmarshal([]byte(`{"school_name":"Old","custom_flag":true}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// A later partial document must not erase extras captured earlier.
	if err := json.Unmarshal([]byte(`{"school_name":"New"}`), &s); err != nil {
		t.Fatalf("overlay: %v", err)
	}

	if s.SchoolName != "New" {
		t.Fatalf("school_name = %q", s.SchoolName)
	}
	if _, ok := s.Extra["custom_flag"]; !ok {
		t.Fatalf("overlay dropped earlier unknown key: %+v", s.Extra)
	}
}

func TestResolverUpdateKeepsHandAddedKeys(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	seeded := []byte(`{"school_name":"Old","custom_flag":true}`)
	if err := os.WriteFile(filepath.Join(dir, string(store.Settings)), seeded, 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(st)
	// Same shape as the settings PUT handler: unmarshal the request body over
	// the loaded document.
	if err := r.Update(func(s *Settings) {
		_ = json.Unmarshal([]byte(`{"school_name":"New"}`), s)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, string(store.Settings)))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if string(m["school_name"]) != `"New"` {
		t.Fatalf("school_name = %s", m["school_name"])
	}
	if _, ok := m["custom_flag"]; !ok {
		t.Fatal("hand-added key lost across an update")
	}
}

func TestWindowFallbackOnMalformedTimes(t *testing.T) {
	cases := []Settings{
		{AttendanceStartTime: "seven", AttendanceEndTime: "09:00", LateTime: "07:30"},
		{AttendanceStartTime: "07:00", AttendanceEndTime: "", LateTime: "07:30"},
		{AttendanceStartTime: "07:00", AttendanceEndTime: "09:00", LateTime: "25:99"},
	}
	for i, s := range cases {
		if got := s.Window(); got != DefaultWindow() {
			t.Errorf("case %d: got %+v, want default window", i, got)
		}
	}
}

func TestWindowParsesConfiguredTimes(t *testing.T) {
	s := Settings{AttendanceStartTime: "06:30", AttendanceEndTime: "10:15", LateTime: "07:00"}
	w := s.Window()
	if w.Start != 6*3600+30*60 || w.End != 10*3600+15*60 || w.LateCutoff != 7*3600 {
		t.Fatalf("unexpected window: %+v", w)
	}
}

func TestWindowContainsIsInclusive(t *testing.T) {
	w := DefaultWindow()
	at := func(hh, mm, ss int) TimeOfDay { return TimeOfDay(hh*3600 + mm*60 + ss) }

	if !w.Contains(at(7, 0, 0)) {
		t.Error("start boundary should be inside")
	}
	if !w.Contains(at(9, 0, 0)) {
		t.Error("end boundary should be inside")
	}
	if w.Contains(at(6, 59, 59)) {
		t.Error("06:59:59 should be outside")
	}
	if w.Contains(at(9, 0, 1)) {
		t.Error("09:00:01 should be outside")
	}
}

func TestTimeOfDayAt(t *testing.T) {
	ts := time.Date(2024, 3, 11, 7, 30, 1, 0, time.UTC)
	if got := TimeOfDayAt(ts); got != 7*3600+30*60+1 {
		t.Fatalf("TimeOfDayAt = %d", got)
	}
}

func TestResolverDefaultsWhenFileMissing(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(st)
	if got := r.Current(); got.SchoolName != Defaults().SchoolName {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if r.Window() != DefaultWindow() {
		t.Fatal("expected default window")
	}
}

func TestResolverUpdatePersists(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(st)

	if err := r.Update(func(s *Settings) { s.LateTime = "08:00" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := r.Current(); got.LateTime != "08:00" {
		t.Fatalf("LateTime = %q", got.LateTime)
	}
	// untouched fields keep their defaults
	if got := r.Current(); got.AttendanceEndTime != "09:00" {
		t.Fatalf("AttendanceEndTime = %q", got.AttendanceEndTime)
	}
}

func TestEnsureWritesFile(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewResolver(st).Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, string(store.Settings))); err != nil {
		t.Fatalf("settings file not created: %v", err)
	}
}
