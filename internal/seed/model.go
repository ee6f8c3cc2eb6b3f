// Package seed talks to the controller's agent-seed API: starting a seed
// between two agents and reading its status and stage history.
package seed

import (
	"fmt"
	"strings"

	"seedharness/internal/apperrors"
)

// Method is a seed method supported by the agents.
type Method string

const (
	ClonePlugin Method = "ClonePlugin"
	LVM         Method = "LVM"
	Mydumper    Method = "Mydumper"
	Mysqldump   Method = "Mysqldump"
	Xtrabackup  Method = "Xtrabackup"
)

// Methods lists every known method.
func Methods() []Method {
	return []Method{ClonePlugin, LVM, Mydumper, Mysqldump, Xtrabackup}
}

// ParseMethod resolves a method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods() {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", apperrors.Validation("method", fmt.Sprintf("unknown seed method %q", s))
}

// Stage names reported by the controller.
const (
	StagePrepare      = "Prepare"
	StageBackup       = "Backup"
	StageRestore      = "Restore"
	StageCleanup      = "Cleanup"
	StageConnectSlave = "ConnectSlave"
)

// Status is the lifecycle state of a seed job as the harness sees it.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// ParseStatus maps a controller status string onto Status. Agents report
// "Error" and "Cancelled" for stages that did not finish; both count as
// Failed. Any value outside this vocabulary, empty included, is malformed.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return 0, fmt.Errorf("empty seed status")
	case "pending", "scheduled", "started":
		return Pending, nil
	case "running":
		return Running, nil
	case "completed":
		return Completed, nil
	case "failed", "error", "cancelled":
		return Failed, nil
	default:
		return 0, fmt.Errorf("unknown seed status %q", raw)
	}
}

// Details is the summary returned by /api/agent-seed-details/{id}.
type Details struct {
	SeedID         int64  `json:"SeedId"`
	TargetHostname string `json:"TargetHostname"`
	SourceHostname string `json:"SourceHostname"`
	SeedMethod     string `json:"SeedMethod"`
	Status         string `json:"Status"`
	Stage          string `json:"Stage"`
	Retries        int    `json:"Retries"`
}

// StageState is one entry of /api/agent-seed-states/{id}, newest first.
type StageState struct {
	SeedStateID int64  `json:"SeedStateId"`
	SeedID      int64  `json:"SeedId"`
	Stage       string `json:"Stage"`
	Hostname    string `json:"Hostname"`
	Timestamp   string `json:"Timestamp"` // Format varies across controller versions
	Status      string `json:"Status"`
	Details     string `json:"Details"`
}

// Snapshot is one observation of a seed: its status, current stage and the
// stage history at that moment.
type Snapshot struct {
	Status    Status
	RawStatus string
	Stage     string
	History   []StageState
}

// CurrentStageHistory returns the history entries for the current stage.
func (s Snapshot) CurrentStageHistory() []StageState {
	var matched []StageState
	for _, state := range s.History {
		if strings.EqualFold(state.Stage, s.Stage) {
			matched = append(matched, state)
		}
	}
	return matched
}
