package events

import "testing"

func TestKindString(t *testing.T) {
	all := []Event{
		MasterNotified{}, OrderAccepted{}, OrderRejected{},
		AssignmentExpired{}, NoMastersAvailable{}, AllMastersRejected{},
	}
	seen := map[string]bool{}
	for _, e := range all {
		name := e.Kind().String()
		if name == "Unknown" || seen[name] {
			t.Fatalf("bad or duplicate kind name %q", name)
		}
		seen[name] = true
		k, ok := ParseKind(name)
		if !ok || k != e.Kind() {
			t.Fatalf("ParseKind(%q) = %v, %v", name, k, ok)
		}
	}
	if Kind(99).String() != "Unknown" {
		t.Fatalf("expected Unknown for out of range kind")
	}
}

func TestTerminalKinds(t *testing.T) {
	terminal := map[Kind]bool{
		KindOrderAccepted:      true,
		KindNoMastersAvailable: true,
		KindAllMastersRejected: true,
	}
	for k := KindMasterNotified; k <= KindAllMastersRejected; k++ {
		if k.Terminal() != terminal[k] {
			t.Errorf("%s terminal = %v", k, k.Terminal())
		}
	}
}

func TestMasterAndAssignmentOf(t *testing.T) {
	e := OrderRejected{OrderID: "o1", MasterID: "m1", AssignmentID: "a1"}
	if MasterOf(e) != "m1" || AssignmentOf(e) != "a1" || e.Order() != "o1" {
		t.Fatalf("unexpected accessors for %#v", e)
	}
	if MasterOf(NoMastersAvailable{OrderID: "o1"}) != "" {
		t.Fatalf("expected no master for NoMastersAvailable")
	}
}
