package deskhost

import (
	"errors"
	"testing"
)

var errFakeEnumerate = errors.New("fake enumerate failure")

type fakeMonitorSource struct {
	monitors []Monitor
	err      error
}

func (f *fakeMonitorSource) Enumerate() ([]Monitor, error) {
	return f.monitors, f.err
}

func TestMonitorRegistryListSortsPrimaryFirstAndReindexes(t *testing.T) {
	src := &fakeMonitorSource{monitors: []Monitor{
		{Index: 7, DeviceName: "secondary-a", Primary: false},
		{Index: 2, DeviceName: "primary", Primary: true},
		{Index: 9, DeviceName: "secondary-b", Primary: false},
	}}
	r := NewMonitorRegistry(src)

	list, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	if !list[0].Primary || list[0].DeviceName != "primary" {
		t.Fatalf("expected primary monitor first, got %+v", list[0])
	}
	for i, m := range list {
		if m.Index != i {
			t.Fatalf("monitor %d has Index %d, want dense index %d", i, m.Index, i)
		}
	}
	if list[1].DeviceName != "secondary-a" || list[2].DeviceName != "secondary-b" {
		t.Fatalf("expected stable order among secondaries, got %+v", list)
	}
}

func TestMonitorRegistryCachedReflectsLastList(t *testing.T) {
	src := &fakeMonitorSource{monitors: []Monitor{{Index: 0, DeviceName: "only", Primary: true}}}
	r := NewMonitorRegistry(src)

	if got := r.Cached(); len(got) != 0 {
		t.Fatalf("Cached() before List() = %v, want empty", got)
	}

	if _, err := r.List(); err != nil {
		t.Fatalf("List: %v", err)
	}
	cached := r.Cached()
	if len(cached) != 1 || cached[0].DeviceName != "only" {
		t.Fatalf("Cached() = %+v, want one monitor named 'only'", cached)
	}
}

func TestMonitorRegistryByIndex(t *testing.T) {
	src := &fakeMonitorSource{monitors: []Monitor{
		{DeviceName: "a", Primary: true},
		{DeviceName: "b", Primary: false},
	}}
	r := NewMonitorRegistry(src)
	if _, err := r.List(); err != nil {
		t.Fatalf("List: %v", err)
	}

	m, ok := r.ByIndex(1)
	if !ok {
		t.Fatal("expected ByIndex(1) to find a monitor")
	}
	if m.DeviceName != "b" {
		t.Fatalf("ByIndex(1).DeviceName = %q, want %q", m.DeviceName, "b")
	}

	if _, ok := r.ByIndex(99); ok {
		t.Fatal("expected ByIndex(99) to report not found")
	}
}

func TestMonitorRegistryListPropagatesError(t *testing.T) {
	wantErr := errFakeEnumerate
	src := &fakeMonitorSource{err: wantErr}
	r := NewMonitorRegistry(src)

	if _, err := r.List(); err != wantErr {
		t.Fatalf("List() err = %v, want %v", err, wantErr)
	}
}
