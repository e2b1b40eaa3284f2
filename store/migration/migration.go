// Package migration runs an ordered list of schema upgrade tasks and
// reports their progress. The postgres store uses it to carry the
// bootstrap schema forward across releases.
package migration

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateID is returned when two tasks share a migration id.
var ErrDuplicateID = errors.New("duplicate migration id detected")

// Status lines reported through GetStatus.
const (
	StatusPending      = "Migration pending"
	StatusComplete     = "Migrations Complete"
	StatusActivePrefix = "Active migration: "
	StatusErrorPrefix  = "error during migration "
)

// A migration function should take care of writing back to the
// metastate migration row.
type Handler func() error

// Task is one migration step.
type Task struct {
	MigrationID int

	Handler Handler

	// Description of the migration.
	Description string
}

// State is a snapshot of migration progress.
type State struct {
	Err     error
	Status  string
	Running bool
}

// Migration executes tasks in order and tracks their state.
type Migration struct {
	mutex sync.Mutex

	state State
	tasks []Task
}

// Broken out to allow for testing.
func (m *Migration) setTasks(tasks []Task) error {
	set := make(map[int]bool)

	for _, task := range tasks {
		// Prevent duplicate IDs
		if set[task.MigrationID] {
			return ErrDuplicateID
		}
		set[task.MigrationID] = true
	}

	m.tasks = tasks

	return nil
}

// MakeMigration validates the task list and returns a pending migration.
func MakeMigration(tasks []Task) (*Migration, error) {
	m := &Migration{
		state: State{
			Err:     nil,
			Status:  StatusPending,
			Running: false,
		},
	}

	err := m.setTasks(tasks)
	return m, err
}

// GetStatus returns a copy of the current state.
func (m *Migration) GetStatus() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return State{
		Err:     m.state.Err,
		Status:  m.state.Status,
		Running: m.state.Running,
	}
}

func (m *Migration) update(err error, status string, running bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.state.Err = err
	m.state.Status = status
	m.state.Running = running
}

// Start runs the tasks in order, stopping at the first failure.
func (m *Migration) Start() {
	for _, task := range m.tasks {
		m.update(nil, StatusActivePrefix+task.Description, true)
		err := task.Handler()

		if err != nil {
			err := fmt.Errorf("%s%d (%s): %v", StatusErrorPrefix, task.MigrationID, task.Description, err)
			m.update(err, err.Error(), false)
			return
		}
	}

	m.update(nil, StatusComplete, false)
}
