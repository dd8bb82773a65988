package gdvlhttp

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// resumeState is the sidecar kept next to a preallocated output while a
// parallel download is incomplete. A preallocated file already has its
// final size, so only this record says which ranges hold real bytes.
type resumeState struct {
	Session   string       `yaml:"session"`
	URL       string       `yaml:"url"`
	TotalSize int64        `yaml:"total_size"`
	Updated   time.Time    `yaml:"updated"`
	Ranges    []rangeState `yaml:"ranges"`

	path string
	mu   sync.Mutex
}

type rangeState struct {
	ByteRange `yaml:",inline"`
	Done      bool `yaml:"done"`
}

func newResumeState(path, link string, totalSize int64, ranges []ByteRange) *resumeState {
	s := &resumeState{
		Session:   uuid.NewString(),
		URL:       link,
		TotalSize: totalSize,
		path:      path,
	}
	for _, r := range ranges {
		s.Ranges = append(s.Ranges, rangeState{ByteRange: r})
	}
	return s
}

// loadResumeState returns nil without error when no sidecar exists.
func loadResumeState(path string) (*resumeState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s resumeState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing resume state: %w", err)
	}
	s.path = path
	return &s, nil
}

// matches reports whether the sidecar describes the same plan. The URL is
// not compared since signed media URLs change between sessions.
func (s *resumeState) matches(totalSize int64, ranges []ByteRange) bool {
	if s.TotalSize != totalSize || len(s.Ranges) != len(ranges) {
		return false
	}
	for i, r := range ranges {
		if s.Ranges[i].ByteRange != r {
			return false
		}
	}
	return true
}

func (s *resumeState) done(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ranges[i].Done
}

func (s *resumeState) markDone(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ranges[i].Done = true
	return s.saveLocked()
}

func (s *resumeState) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *resumeState) saveLocked() error {
	s.Updated = time.Now().UTC()
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// removeResumeState deletes the sidecar at path if there is one.
func removeResumeState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
