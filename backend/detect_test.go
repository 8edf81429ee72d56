package backend_test

import (
	"reflect"
	"testing"

	"codestreak/backend"
)

// TestStoreRegistry verifies priority ordering and lookup of store drivers.
func TestStoreRegistry(t *testing.T) {
	backend.RegisterStoreWithPriority("zz-test-low", func(string) (backend.Store, error) {
		return nil, nil
	}, 1000)
	backend.RegisterStoreWithPriority("aa-test-high", func(string) (backend.Store, error) {
		return nil, nil
	}, -1)

	drivers := backend.StoreDrivers()
	if len(drivers) < 2 {
		t.Fatalf("StoreDrivers() = %v, want at least 2", drivers)
	}
	if drivers[0] != "aa-test-high" {
		t.Errorf("first driver = %q, want aa-test-high", drivers[0])
	}
	if drivers[len(drivers)-1] != "zz-test-low" {
		t.Errorf("last driver = %q, want zz-test-low", drivers[len(drivers)-1])
	}

	if _, err := backend.OpenStore("does-not-exist", ""); err == nil {
		t.Error("OpenStore(unknown) should fail")
	}
}

func TestParseRevisionMode(t *testing.T) {
	tests := []struct {
		in      string
		want    backend.RevisionMode
		wantErr bool
	}{
		{"", backend.ModeNormal, false},
		{"normal", backend.ModeNormal, false},
		{"ML", backend.ModeML, false},
		{" ml ", backend.ModeML, false},
		{"fsrs", "", true},
	}
	for _, tt := range tests {
		got, err := backend.ParseRevisionMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRevisionMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRevisionMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindFriend(t *testing.T) {
	friends := []backend.Friend{{Username: "Ada"}, {Username: "linus"}}
	if f := backend.FindFriend(friends, "ada"); f == nil || f.Username != "Ada" {
		t.Errorf("FindFriend(ada) = %v", f)
	}
	if f := backend.FindFriend(friends, "grace"); f != nil {
		t.Errorf("FindFriend(grace) = %v, want nil", f)
	}

	g := backend.GroupedRevisions{Overdue: make([]backend.Revision, 2), Today: make([]backend.Revision, 1)}
	if !reflect.DeepEqual(g.Count(), 3) {
		t.Errorf("Count() = %d, want 3", g.Count())
	}
}
