package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is the number of identical consecutive calls that
// escalate a check to ASK.
const DoomLoopThreshold = 3

// DoomLoopDetector notices a model repeating the same tool call with the
// same input.
type DoomLoopDetector struct {
	mu        sync.Mutex
	threshold int
	last      map[string]streak // sessionID -> current streak
}

type streak struct {
	hash  string
	count int
}

// NewDoomLoopDetector creates a detector with DoomLoopThreshold.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{threshold: DoomLoopThreshold, last: make(map[string]streak)}
}

// Check records a call and reports whether it completes a run of threshold
// identical calls in the session.
func (d *DoomLoopDetector) Check(sessionID, tool string, input any) bool {
	hash := hashCall(tool, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.last[sessionID]
	if s.hash == hash {
		s.count++
	} else {
		s = streak{hash: hash, count: 1}
	}
	d.last[sessionID] = s
	return s.count >= d.threshold
}

// Clear forgets the session's history.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, sessionID)
}

func hashCall(tool string, input any) string {
	data, _ := json.Marshal(map[string]any{"tool": tool, "input": input})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
