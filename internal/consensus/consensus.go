// Package consensus implements the master's vote-by-mode machinery for
// GTP queries where slaves may disagree and the master must pick one
// answer — currently just final_status_list, the dead-group query.
//
// Built directly on the registry append and collector deadline-wait
// primitives shared with the rest of the protocol.
package consensus

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/wire"
)

// MaxFastCmdWait bounds how long the master waits for slave replies to
// a broadcast command that isn't a search — final_status_list among
// them.
const MaxFastCmdWait = 1 * time.Second

// DeadGroups broadcasts final_status_list with the caller's status
// argument (dead/alive/seki), waits up to MaxFastCmdWait for replies,
// and returns the coordinates of the modal reply — the longest run of
// identical payloads once sorted lexicographically — split on
// whitespace into individual stone coordinates.
func DeadGroups(ctx context.Context, reg *registry.Registry, col *collector.Collector, connected func() []string, status string) []string {
	cmd := reg.Append(wire.VerbFinalStatusList, status)

	deadline := time.Now().Add(MaxFastCmdWait)
	replies := col.WaitUntil(ctx, deadline, cmd.ID, connected)

	payloads := make([]string, 0, len(replies))
	for _, r := range replies {
		if r.Status != wire.StatusSuccess {
			continue
		}
		payloads = append(payloads, r.Payload)
	}
	if len(payloads) == 0 {
		return nil
	}

	mode := modeByLongestRun(payloads)
	return strings.Fields(mode)
}

// modeByLongestRun sorts payloads lexicographically (descending, so
// that among reply strings sharing a common prefix the more specific,
// longer one sorts first) and returns the value starting the longest
// run of consecutive duplicates — ties go to whichever run is
// encountered first in that sorted order.
func modeByLongestRun(payloads []string) string {
	sorted := append([]string(nil), payloads...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	bestValue := sorted[0]
	bestRun := 1
	curRun := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			curRun++
		} else {
			curRun = 1
		}
		if curRun > bestRun {
			bestRun = curRun
			bestValue = sorted[i]
		}
	}
	return bestValue
}
