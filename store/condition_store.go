package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/models"
)

// ConditionStore persists the full set of active Conditions to a single
// JSON file, shared between the Strategy Engine (read/write, per tick) and
// the Operator Surface (read-only, for GET /conditions).
type ConditionStore struct {
	path string
	mu   sync.Mutex
}

// NewConditionStore opens (creating if absent) the condition file at path.
func NewConditionStore(path string) (*ConditionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create condition directory: %w", err)
	}
	s := &ConditionStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeAll(map[string]*models.Condition{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ConditionStore) readAll() (map[string]*models.Condition, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*models.Condition{}, nil
		}
		return nil, fmt.Errorf("store: read conditions file: %w", err)
	}
	if len(b) == 0 {
		return map[string]*models.Condition{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("condition store: malformed file, treating as empty")
		return map[string]*models.Condition{}, nil
	}

	result := make(map[string]*models.Condition, len(raw))
	for _, item := range raw {
		var c models.Condition
		if err := json.Unmarshal(item, &c); err != nil || c.ConditionID == "" {
			log.Warn().Err(err).Msg("condition store: skipping malformed record")
			continue
		}
		result[c.ConditionID] = &c
	}
	return result, nil
}

func (s *ConditionStore) writeAll(data map[string]*models.Condition) error {
	list := make([]*models.Condition, 0, len(data))
	for _, c := range data {
		list = append(list, c)
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode conditions: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0644); err != nil {
		return fmt.Errorf("store: write conditions file: %w", err)
	}
	return nil
}

// Create persists a new Condition under its ConditionID.
func (s *ConditionStore) Create(c *models.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return err
	}
	data[c.ConditionID] = c
	return s.writeAll(data)
}

// Get returns the condition with the given ID, or nil if absent.
func (s *ConditionStore) Get(conditionID string) (*models.Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return data[conditionID], nil
}

// GetAll returns every stored condition. The Strategy Engine calls this
// once per tick.
func (s *ConditionStore) GetAll() ([]*models.Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	list := make([]*models.Condition, 0, len(data))
	for _, c := range data {
		list = append(list, c)
	}
	return list, nil
}

// Update persists the mutated condition back to the store. The Strategy
// Engine calls this after evaluating each condition against a tick.
func (s *ConditionStore) Update(c *models.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return err
	}
	data[c.ConditionID] = c
	return s.writeAll(data)
}

// Delete removes a condition, typically once it reaches the exited state.
func (s *ConditionStore) Delete(conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := data[conditionID]; !ok {
		return nil
	}
	delete(data, conditionID)
	return s.writeAll(data)
}

// SearchByTriggerPrice returns every condition configured with the given
// trigger price.
func (s *ConditionStore) SearchByTriggerPrice(triggerPrice int) ([]*models.Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var matches []*models.Condition
	for _, c := range data {
		if c.TriggerPrice == triggerPrice {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// DeleteAll clears every stored condition.
func (s *ConditionStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAll(map[string]*models.Condition{})
}
