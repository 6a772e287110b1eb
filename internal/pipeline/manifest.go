package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StageStatus is the status of a run-level stage
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
)

// StageState tracks the state of a single run-level stage
type StageState struct {
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	RetryCount  int         `json:"retry_count"`
	Error       string      `json:"error,omitempty"`
}

// Manifest is a point-in-time report of a run. It is what drivers display
// and what is written to output/run_<id>.json; it is never read back to
// resume a run.
type Manifest struct {
	RunID     int64     `json:"run_id"`
	Topic     string    `json:"topic"`
	Audience  string    `json:"audience"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CurrentStage Stage                 `json:"current_stage,omitempty"`
	Stages       map[Stage]*StageState `json:"stages"`
	Scenes       []SceneRecord         `json:"scenes"`

	FinalArtifactPath string `json:"final_artifact_path,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// SceneRecord is the report of one scene
type SceneRecord struct {
	Number          int        `json:"scene_number"`
	Identifier      string     `json:"identifier"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Narration       string     `json:"narration"`
	AnimationIntent string     `json:"animation_intent"`
	SourceCode      string     `json:"source_code"`
	State           SceneState `json:"render_state"`
	ArtifactPath    string     `json:"artifact_path,omitempty"`
	Narrated        bool       `json:"narrated"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"last_error,omitempty"`
	LastErrorKind   Kind       `json:"last_error_kind,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// LoadManifest reads a run report from file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}

// Save writes manifest to file atomically
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	// Write to a unique temp file in the same directory, then rename over path
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	tempPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Scene returns the record for scene n
func (m *Manifest) Scene(n int) (SceneRecord, bool) {
	if n < 1 || n > len(m.Scenes) {
		return SceneRecord{}, false
	}
	return m.Scenes[n-1], true
}

// Rendered counts scenes in the Rendered state
func (m *Manifest) Rendered() int {
	count := 0
	for _, s := range m.Scenes {
		if s.State == SceneRendered {
			count++
		}
	}
	return count
}
