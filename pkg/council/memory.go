package council

import (
	"sort"
	"sync"
	"time"
)

// Bounds on the capped collections held by HiveMemory.
const (
	maxHotspots     = 20 // hotspot map pruned to the top N files by error count
	maxRecentTools  = 30
	maxToolRecords  = 50
	maxWiringAlerts = 20
)

// ToolExecution is a rich record of one tool invocation.
type ToolExecution struct {
	Name       string    `json:"name"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// HiveMemory is the per-run mutable state the council reads for health
// signals: error hotspots, flow state, recent tool activity, and the most
// recent strategic recommendation. All mutation goes through its methods;
// the internal maps and slices are never handed out directly.
type HiveMemory struct {
	mu sync.Mutex

	lastActiveFile string
	hotspots       map[string]int
	totalErrors    int
	flowState      float64
	recentTools    []string
	toolRecords    []ToolExecution
	successStreak  int
	shakyDensity   float64
	writtenFiles   map[string]string
	wiringAlerts   []string
	recommendation *Recommendation
}

// NewHiveMemory creates run memory with a neutral flow state of 50.
func NewHiveMemory() *HiveMemory {
	return &HiveMemory{
		hotspots:     make(map[string]int),
		flowState:    50,
		writtenFiles: make(map[string]string),
	}
}

// NoteActiveFile records the file the run is currently focused on.
func (m *HiveMemory) NoteActiveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActiveFile = path
}

// RecordError counts an error against a file, prunes the hotspot map to
// the top entries by count, and resets the success streak.
func (m *HiveMemory) RecordError(file string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalErrors++
	m.successStreak = 0
	if file != "" {
		m.hotspots[file]++
		m.pruneHotspotsLocked()
	}
}

// pruneHotspotsLocked keeps only the top maxHotspots files by error count.
// Ties are broken by file name so pruning is deterministic.
func (m *HiveMemory) pruneHotspotsLocked() {
	if len(m.hotspots) <= maxHotspots {
		return
	}

	type entry struct {
		file  string
		count int
	}
	entries := make([]entry, 0, len(m.hotspots))
	for file, count := range m.hotspots {
		entries = append(entries, entry{file, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].file < entries[j].file
	})

	for _, e := range entries[maxHotspots:] {
		delete(m.hotspots, e.file)
	}
}

// RecordToolExecution updates flow state, success streak and shaky-response
// density from one tool outcome, and appends to the capped tool histories.
func (m *HiveMemory) RecordToolExecution(name string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recentTools = append(m.recentTools, name)
	if len(m.recentTools) > maxRecentTools {
		m.recentTools = m.recentTools[len(m.recentTools)-maxRecentTools:]
	}

	m.toolRecords = append(m.toolRecords, ToolExecution{
		Name:       name,
		Success:    success,
		DurationMs: duration.Milliseconds(),
		At:         time.Now().UTC(),
	})
	if len(m.toolRecords) > maxToolRecords {
		m.toolRecords = m.toolRecords[len(m.toolRecords)-maxToolRecords:]
	}

	// Exponentially decayed failure density; one failure nudges it up,
	// sustained failures saturate it.
	failed := 0.0
	if success {
		m.successStreak++
		m.flowState = clampFlow(m.flowState + 2)
	} else {
		m.successStreak = 0
		m.flowState = clampFlow(m.flowState - 5)
		failed = 1.0
	}
	m.shakyDensity = m.shakyDensity*0.8 + failed*0.2
}

// RecordWrittenFile stores a diff summary for a file written this run.
func (m *HiveMemory) RecordWrittenFile(path, diffSummary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writtenFiles[path] = diffSummary
}

// AddWiringAlert appends a wiring alert, dropping the oldest past the cap.
func (m *HiveMemory) AddWiringAlert(alert string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wiringAlerts = append(m.wiringAlerts, alert)
	if len(m.wiringAlerts) > maxWiringAlerts {
		m.wiringAlerts = m.wiringAlerts[len(m.wiringAlerts)-maxWiringAlerts:]
	}
}

// SetRecommendation replaces the most recent strategic recommendation.
func (m *HiveMemory) SetRecommendation(rec Recommendation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recommendation = &rec
}

// Recommendation returns the last strategic recommendation, if any.
func (m *HiveMemory) Recommendation() (Recommendation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recommendation == nil {
		return Recommendation{}, false
	}
	return *m.recommendation, true
}

// FlowState returns the current 0-100 health/momentum score.
func (m *HiveMemory) FlowState() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flowState
}

// ErrorCount returns the total errors recorded this run.
func (m *HiveMemory) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalErrors
}

// HotspotCount returns how many files currently count as error hotspots.
func (m *HiveMemory) HotspotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hotspots)
}

// Hotspots returns a copy of the hotspot map.
func (m *HiveMemory) Hotspots() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.hotspots))
	for file, count := range m.hotspots {
		out[file] = count
	}
	return out
}

// SuccessStreak returns the current run of consecutive tool successes.
func (m *HiveMemory) SuccessStreak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successStreak
}

// ShakyDensity returns the decayed recent-failure density in [0,1].
func (m *HiveMemory) ShakyDensity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shakyDensity
}

// LastActiveFile returns the most recently noted active file.
func (m *HiveMemory) LastActiveFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActiveFile
}

// RecentTools returns a copy of the capped recent tool-name history,
// oldest first.
func (m *HiveMemory) RecentTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recentTools...)
}

// ToolRecords returns a copy of the capped tool-execution records.
func (m *HiveMemory) ToolRecords() []ToolExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolExecution(nil), m.toolRecords...)
}

// WrittenFiles returns a copy of the written-file diff summaries.
func (m *HiveMemory) WrittenFiles() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.writtenFiles))
	for path, diff := range m.writtenFiles {
		out[path] = diff
	}
	return out
}

// WiringAlerts returns a copy of the capped wiring alerts.
func (m *HiveMemory) WiringAlerts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.wiringAlerts...)
}

func clampFlow(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
