package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// AnalyticsStore persists the running approval analytics aggregate.
type AnalyticsStore interface {
	Load() (*models.ApprovalAnalytics, error)
	// Update applies fn to the stored aggregate under a file lock.
	Update(fn func(*models.ApprovalAnalytics)) error
}

type fileAnalyticsStore struct {
	path string
}

// NewAnalyticsStore creates an AnalyticsStore backed by
// basePath/approvals/analytics.json.
func NewAnalyticsStore(basePath string) AnalyticsStore {
	return &fileAnalyticsStore{path: filepath.Join(basePath, "approvals", "analytics.json")}
}

func (s *fileAnalyticsStore) Load() (*models.ApprovalAnalytics, error) {
	a := &models.ApprovalAnalytics{
		ActionTypes:      make(map[string]int),
		RejectionReasons: make(map[string]int),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("loading approval analytics: %w", err)
	}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("loading approval analytics: parsing JSON: %w", err)
	}
	if a.ActionTypes == nil {
		a.ActionTypes = make(map[string]int)
	}
	if a.RejectionReasons == nil {
		a.RejectionReasons = make(map[string]int)
	}
	return a, nil
}

func (s *fileAnalyticsStore) Update(fn func(*models.ApprovalAnalytics)) error {
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("locking approval analytics: %w", err)
	}
	defer func() { _ = unlock() }()

	a, err := s.Load()
	if err != nil {
		return err
	}
	fn(a)

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("saving approval analytics: marshaling JSON: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("saving approval analytics: %w", err)
	}
	return nil
}
