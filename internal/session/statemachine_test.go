package session

import (
	"testing"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

func fcid(group, client string) ids.FullConsumerId {
	return ids.FullConsumerId{GroupId: ids.GroupId(group), ClientId: ids.ClientId(client)}
}

func fpid(producer string) ids.FullProducerId {
	return ids.FullProducerId{ProducerId: ids.ProducerId(producer)}
}

// S1: Consumer quota enforced locally.
func TestAddInstance_QuotaEnforced(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 2)

	r1 := AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1"))
	if r1.Kind != Updated {
		t.Fatalf("expected Updated, got %s", r1.Kind)
	}
	s = r1.Session()

	r2 := AddInstance(s, NewConsumerInstance(fcid("g1", "c2"), "n2"))
	if r2.Kind != Updated {
		t.Fatalf("expected Updated, got %s", r2.Kind)
	}
	s = r2.Session()

	r3 := AddInstance(s, NewConsumerInstance(fcid("g1", "c3"), "n1"))
	if r3.Kind != InstanceLimitReached {
		t.Fatalf("expected InstanceLimitReached, got %s", r3.Kind)
	}
	if r3.Session().Len() != 2 {
		t.Fatalf("expected session untouched at 2 instances, got %d", r3.Session().Len())
	}
}

// S2: Kind mismatch.
func TestAddInstance_KindMismatch(t *testing.T) {
	s := NewConsumerSession("s1", "s1", 1)
	r := AddInstance(s, NewProducerInstance(fpid("pX"), "nA"))
	if r.Kind != InstanceTypeForSessionIncorrect {
		t.Fatalf("expected InstanceTypeForSessionIncorrect, got %s", r.Kind)
	}
	if r.Session().Len() != 0 {
		t.Fatalf("expected session to remain empty, got %d instances", r.Session().Len())
	}
}

// S3: Remove then re-add.
func TestRemoveThenReAdd(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 2)
	s = AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1")).Session()
	s = AddInstance(s, NewConsumerInstance(fcid("g1", "c2"), "n2")).Session()

	removed := RemoveInstance(s, ConsumerKey(fcid("g1", "c1")))
	if removed.Kind != Updated {
		t.Fatalf("expected Updated, got %s", removed.Kind)
	}
	s = removed.Session()
	if s.Len() != 1 {
		t.Fatalf("expected 1 instance remaining, got %d", s.Len())
	}

	readded := AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "nZ"))
	if readded.Kind != Updated {
		t.Fatalf("expected Updated, got %s", readded.Kind)
	}
	if readded.Session().Len() != 2 {
		t.Fatalf("expected 2 instances after re-add, got %d", readded.Session().Len())
	}
}

// Invariant 2: duplicate add is a no-op that leaves the session unchanged.
func TestAddInstance_DuplicateIsUnchanged(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 2)
	s = AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1")).Session()

	r := AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1"))
	if r.Kind != Unchanged {
		t.Fatalf("expected Unchanged, got %s", r.Kind)
	}
	if !r.Session().Equal(s) {
		t.Fatalf("expected session unchanged by re-add of existing instance")
	}
}

// Invariant 3: removing an absent instance is a no-op that leaves the
// session unchanged.
func TestRemoveInstance_AbsentIsUnchanged(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 2)
	s = AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1")).Session()

	r := RemoveInstance(s, ConsumerKey(fcid("g1", "c9")))
	if r.Kind != Unchanged {
		t.Fatalf("expected Unchanged, got %s", r.Kind)
	}
	if !r.Session().Equal(s) {
		t.Fatalf("expected session unchanged by removing an absent instance")
	}
}

// Invariant 8: cleanup idempotence.
func TestRemoveInstance_Idempotent(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 2)
	s = AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1")).Session()

	once := RemoveInstance(s, ConsumerKey(fcid("g1", "c1"))).Session()
	twice := RemoveInstance(once, ConsumerKey(fcid("g1", "c1"))).Session()
	thrice := RemoveInstance(twice, ConsumerKey(fcid("g1", "c1"))).Session()

	if !once.Equal(twice) || !twice.Equal(thrice) {
		t.Fatalf("expected repeated removeInstance calls to converge to the same session")
	}
}

// Invariant 1 (quantified): for all sequences of add/remove, |instances| <=
// maxConnections whenever maxConnections > 0.
func TestCapacityInvariant_Fuzz(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 3)
	ops := []struct {
		add bool
		id  string
	}{
		{true, "a"}, {true, "b"}, {true, "c"}, {true, "d"},
		{false, "b"}, {true, "e"}, {true, "f"}, {false, "a"}, {true, "g"},
	}
	for _, op := range ops {
		if op.add {
			s = AddInstance(s, NewConsumerInstance(fcid("g1", op.id), "n1")).Session()
		} else {
			s = RemoveInstance(s, ConsumerKey(fcid("g1", op.id))).Session()
		}
		if s.MaxConnections() > 0 && uint(s.Len()) > s.MaxConnections() {
			t.Fatalf("capacity invariant violated: %d instances with cap %d", s.Len(), s.MaxConnections())
		}
	}
}

// Invariant 5: canOpenSocket matches the capacity predicate exactly.
func TestCanOpenSocket(t *testing.T) {
	s := NewConsumerSession("g1", "g1", 1)
	if !CanOpenSocket(s) {
		t.Fatalf("expected empty session to allow a socket")
	}
	s = AddInstance(s, NewConsumerInstance(fcid("g1", "c1"), "n1")).Session()
	if CanOpenSocket(s) {
		t.Fatalf("expected full session to refuse a socket")
	}

	unlimited := NewConsumerSession("g2", "g2", 0)
	for i := 0; i < 50; i++ {
		unlimited = AddInstance(unlimited, NewConsumerInstance(fcid("g2", string(rune('a'+i))), "n1")).Session()
	}
	if !CanOpenSocket(unlimited) {
		t.Fatalf("expected maxConnections=0 session to always allow a socket")
	}
}
