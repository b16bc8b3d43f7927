package directory

import (
	"testing"

	"github.com/freitascorp/relaycore/pkg/connstate"
)

type nopWriter struct{}

func (nopWriter) WriteText([]byte) error                  { return nil }
func (nopWriter) Close(connstate.CloseCode, string) error { return nil }

func TestAddRemoveSnapshot(t *testing.T) {
	d := New()
	s1 := connstate.New("c1", nopWriter{})
	s2 := connstate.New("c2", nopWriter{})

	e1 := d.Add(s1)
	d.Add(s2)

	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}

	d.Remove(e1)
	if d.Len() != 1 {
		t.Fatalf("Len() = %d after remove, want 1", d.Len())
	}

	snap := d.Snapshot()
	if len(snap) != 1 || snap[0].State != s2 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
}

func TestFirstWhere(t *testing.T) {
	d := New()
	s1 := connstate.New("c1", nopWriter{})
	s1.SetState(connstate.PortalAuth)
	_ = s1.Authenticate(connstate.PortalAuth, "portal-1", "org-1")
	d.Add(s1)

	found := d.FirstWhere(func(e *Entry) bool {
		return e.State.ClientID() == "portal-1"
	})
	if found == nil {
		t.Fatal("expected to find entry for portal-1")
	}

	missing := d.FirstWhere(func(e *Entry) bool {
		return e.State.ClientID() == "nonexistent"
	})
	if missing != nil {
		t.Fatal("expected no match for nonexistent client")
	}
}

func TestGatewayWhereRelevantTo(t *testing.T) {
	g := NewGateway()

	s1 := connstate.New("gw-1", nopWriter{})
	_ = s1.Authenticate(connstate.GatewayAuth, "gw-1", "")
	s1.InterestMap = connstate.NewInterestMap()
	s1.InterestMap.MarkInterest("org-1", "agent-1")
	g.Add(s1)

	s2 := connstate.New("gw-2", nopWriter{})
	_ = s2.Authenticate(connstate.GatewayAuth, "gw-2", "")
	s2.InterestMap = connstate.NewInterestMap()
	g.Add(s2)

	s3 := connstate.New("gw-3", nopWriter{})
	s3.SetState(connstate.GatewayUnauth)
	s3.InterestMap = connstate.NewInterestMap()
	s3.InterestMap.MarkInterest("org-1", "agent-1")
	g.Add(s3)

	relevant := g.WhereRelevantTo("org-1", "agent-1")
	if len(relevant) != 1 || relevant[0].State != s1 {
		t.Fatalf("expected exactly gw-1 to be relevant, got %d entries", len(relevant))
	}
}
