package custody

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"toolcustody/models"
)

var (
	t0    = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	jonas = models.User{ID: "U2", Name: "Jonas Weber", Role: models.RoleUser}
	tom   = models.User{ID: "U4", Name: "Tom Brandt", Role: models.RoleUser}
	admin = models.User{ID: "U1", Name: "Site Admin", Role: models.RoleAdmin}
)

func availableTool() models.Tool {
	return models.Tool{ID: "T1", Name: "Rotary Hammer", Category: "Power Tools", ItemCount: 1, Status: models.StatusAvailable}
}

func TestBookOut_RejectsUnlessAvailable(t *testing.T) {
	for _, st := range []models.ToolStatus{models.StatusBookedOut, models.StatusUnderRepair, models.StatusDefective} {
		tool := availableTool()
		tool.Status = st
		if st == models.StatusBookedOut {
			tool.HolderID = models.Ptr("U4")
		}
		next, _, err := BookOut(tool, jonas, t0, Details{}, "l1")
		if !errors.Is(err, ErrNotAvailable) {
			t.Errorf("%s: err = %v", st, err)
		}
		if !reflect.DeepEqual(next, tool) {
			t.Errorf("%s: tool changed on rejection", st)
		}
	}
}

func TestBookOut_SetsHolder(t *testing.T) {
	next, entry, err := BookOut(availableTool(), jonas, t0, Details{Site: models.Ptr("Hafen 4")}, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != models.StatusBookedOut || *next.HolderID != "U2" || *next.HolderName != "Jonas Weber" {
		t.Errorf("next = %+v", next)
	}
	if next.BookedAt == nil || !next.BookedAt.Equal(t0) {
		t.Errorf("bookedAt = %v", next.BookedAt)
	}
	if next.CurrentSite == nil || *next.CurrentSite != "Hafen 4" {
		t.Errorf("site = %v", next.CurrentSite)
	}
	if entry.Action != models.ActionBookOut || entry.UserID != "U2" || entry.ID != "l1" {
		t.Errorf("entry = %+v", entry)
	}
	if len(next.Logs) != 1 || next.Logs[0] != entry {
		t.Errorf("logs = %+v", next.Logs)
	}
	if !next.HolderConsistent() {
		t.Error("holder invariant broken")
	}
}

func TestReturn_OnlyHolder(t *testing.T) {
	booked, _, _ := BookOut(availableTool(), jonas, t0, Details{}, "l1")

	_, _, err := Return(booked, tom, t0, Details{}, "l2")
	if !errors.Is(err, ErrNotHolder) {
		t.Fatalf("err = %v, want ErrNotHolder", err)
	}
	_, _, err = Return(availableTool(), jonas, t0, Details{}, "l2")
	if !errors.Is(err, ErrNotBookedOut) {
		t.Fatalf("err = %v, want ErrNotBookedOut", err)
	}
}

func TestBookOutReturn_RoundTrip(t *testing.T) {
	before := availableTool()
	before.CurrentSite = models.Ptr("Yard")
	before.LastReturnedAt = models.Ptr(t0.Add(-24 * time.Hour))
	before.Logs = []models.ToolLog{{ID: "c", Action: models.ActionCreate}}

	booked, _, err := BookOut(before, jonas, t0, Details{}, "l1")
	if err != nil {
		t.Fatal(err)
	}
	after, _, err := Return(booked, jonas, t0.Add(time.Hour), Details{}, "l2")
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Logs) != 3 {
		t.Fatalf("logs = %d", len(after.Logs))
	}
	a, b := before.Clone(), after.Clone()
	a.Logs, b.Logs = nil, nil
	if !reflect.DeepEqual(a, b) {
		t.Errorf("round trip changed fields:\nbefore %+v\nafter  %+v", a, b)
	}
	if before.Logs[0] != after.Logs[0] {
		t.Error("earlier log entry altered")
	}
}

func TestSetStatus(t *testing.T) {
	tool := availableTool()

	next, entry, err := SetStatus(tool, admin, models.StatusDefective, t0, models.Ptr("cracked housing"), "s1")
	if err != nil || entry == nil || next.Status != models.StatusDefective {
		t.Fatalf("next=%+v entry=%v err=%v", next, entry, err)
	}
	if entry.Action != models.ActionStatusChange || *entry.Comment != "cracked housing" {
		t.Errorf("entry = %+v", entry)
	}

	if _, e, err := SetStatus(next, admin, models.StatusDefective, t0, nil, "s2"); err != nil || e != nil {
		t.Errorf("same status: entry=%v err=%v", e, err)
	}
	if _, _, err := SetStatus(tool, admin, models.StatusBookedOut, t0, nil, "s3"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("to BOOKED_OUT: err = %v", err)
	}
	booked, _, _ := BookOut(tool, jonas, t0, Details{}, "l1")
	if _, _, err := SetStatus(booked, admin, models.StatusUnderRepair, t0, nil, "s4"); !errors.Is(err, ErrBookedOut) {
		t.Errorf("while booked: err = %v", err)
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(ErrNotHolder) || IsValidation(ErrConflict) || IsValidation(errors.New("x")) {
		t.Error("IsValidation misclassifies")
	}
}

func TestTransitions_TimestampsNeverGoBackwards(t *testing.T) {
	later := t0.Add(2 * time.Minute)
	tool := availableTool()
	tool.Logs = []models.ToolLog{{ID: "c0", UserID: "U1", Action: models.ActionCreate, Timestamp: later}}

	booked, entry, err := BookOut(tool, jonas, t0, Details{}, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Timestamp.Before(later) {
		t.Fatalf("book-out at %v precedes previous entry at %v", entry.Timestamp, later)
	}
	if !booked.BookedAt.Equal(entry.Timestamp) {
		t.Errorf("bookedAt = %v, entry = %v", booked.BookedAt, entry.Timestamp)
	}

	returned, entry, err := Return(booked, jonas, t0, Details{}, "l2")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Timestamp.Before(later) {
		t.Errorf("return at %v precedes previous entry", entry.Timestamp)
	}

	_, st, err := SetStatus(returned, admin, models.StatusUnderRepair, t0, nil, "s1")
	if err != nil || st == nil {
		t.Fatalf("entry=%v err=%v", st, err)
	}
	if st.Timestamp.Before(later) {
		t.Errorf("status change at %v precedes previous entry", st.Timestamp)
	}

	// a clock that is ahead is kept as is
	ahead := later.Add(time.Hour)
	_, entry, _ = BookOut(tool, jonas, ahead, Details{}, "l3")
	if !entry.Timestamp.Equal(ahead) {
		t.Errorf("timestamp = %v, want %v", entry.Timestamp, ahead)
	}
}
