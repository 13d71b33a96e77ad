package gamesync

import (
	"testing"
	"time"
)

func TestCellEmptyRead(t *testing.T) {
	c := NewCell[int]()
	if _, ok := c.Get(); ok {
		t.Fatal("empty cell reported a value")
	}
}

func TestCellSuppressesEqualWrites(t *testing.T) {
	c := NewCell[GameSnapshot]()
	notified := 0
	c.Subscribe(func(GameSnapshot) { notified++ })

	snap := GameSnapshot{
		ID:        1,
		Name:      "test ctf",
		StartTime: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
		TeamInfo:  &TeamInfo{ID: 7, Score: 100},
	}

	c.Set(snap)
	c.Set(snap)
	c.Set(snap)

	if notified != 1 {
		t.Errorf("identical writes notified %d times, want 1", notified)
	}

	snap.TeamInfo = &TeamInfo{ID: 7, Score: 150}
	c.Set(snap)
	if notified != 2 {
		t.Errorf("changed write notified %d times total, want 2", notified)
	}
}

func TestCellFirstWriteAlwaysNotifies(t *testing.T) {
	c := NewCell[int]()
	notified := 0
	c.Subscribe(func(int) { notified++ })

	// The zero value is still a change when the cell is empty.
	c.Set(0)
	if notified != 1 {
		t.Errorf("first write notified %d times, want 1", notified)
	}
	c.Set(0)
	if notified != 1 {
		t.Errorf("repeated zero write notified %d times, want 1", notified)
	}
}

func TestCellUpdateSeesPrevious(t *testing.T) {
	c := NewCell[int]()
	c.Set(41)
	c.Update(func(prev int, ok bool) int {
		if !ok {
			t.Fatal("Update did not see the stored value")
		}
		return prev + 1
	})
	if v, _ := c.Get(); v != 42 {
		t.Errorf("Get = %d, want 42", v)
	}
}

func TestCellUnsubscribe(t *testing.T) {
	c := NewCell[int]()
	notified := 0
	cancel := c.Subscribe(func(int) { notified++ })

	c.Set(1)
	cancel()
	cancel() // cancelling twice is safe
	c.Set(2)

	if notified != 1 {
		t.Errorf("notified %d times after unsubscribe, want 1", notified)
	}
}

func TestCellSubscriberMayReadCell(t *testing.T) {
	c := NewCell[int]()
	var seen int
	c.Subscribe(func(int) {
		// Reading back from inside the callback must not deadlock.
		seen, _ = c.Get()
	})
	c.Set(9)
	if seen != 9 {
		t.Errorf("subscriber read %d, want 9", seen)
	}
}
