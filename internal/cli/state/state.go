package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shodhcode/internal/cli/api"
)

// Participation is what the client remembers between runs: which contest
// was joined, under which name, and the last selections made.
type Participation struct {
	ContestID int64        `json:"contest_id"`
	UserName  string       `json:"user_name"`
	Language  api.Language `json:"language,omitempty"`
	ProblemID api.ID       `json:"problem_id,omitempty"`
	JoinedAt  time.Time    `json:"joined_at"`
}

// Joined reports whether a contest was joined.
func (p Participation) Joined() bool {
	return p.ContestID > 0 && p.UserName != ""
}

func Load(path string) (Participation, error) {
	var st Participation
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read participation state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse participation state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st Participation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create participation state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal participation state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write participation state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove participation state failed: %w", err)
	}
	return nil
}
