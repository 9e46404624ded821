package consensus

import (
	"context"
	"testing"

	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/wire"
)

func TestDeadGroupsModeByLongestRun(t *testing.T) {
	reg := registry.New()
	buf := collector.NewReplyBuffer()
	col := collector.New(buf)

	go func() {
		reg.WaitForCommandAfter(0)
		votes := []string{"A1 A2", "A1 A2", "A1 A2 A3", "A1", "A1"}
		for i, payload := range votes {
			buf.Publish(slaveID(i), wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: payload})
		}
	}()

	got := DeadGroups(context.Background(), reg, col, func() []string {
		return []string{"s0", "s1", "s2", "s3", "s4"}
	}, "dead")
	want := []string{"A1", "A2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("dead groups = %v, want %v", got, want)
	}
}

func TestModeByLongestRunTieBreaksFirstInSortedOrder(t *testing.T) {
	got := modeByLongestRun([]string{"B1", "B1", "A1", "A1"})
	if got != "B1" {
		t.Fatalf("mode = %q, want B1 (sorted first among tied runs)", got)
	}
}

func slaveID(i int) string {
	return string(rune('a' + i))
}
