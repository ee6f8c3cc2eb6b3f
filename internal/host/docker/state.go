package docker

import (
	"fmt"
	"sync"

	"seedharness/internal/apperrors"
)

// stateRepo maps host names to the containers backing them.
type stateRepo struct {
	mu    sync.Mutex
	hosts map[string]string
}

// newStateRepo creates a new state repository.
func newStateRepo() *stateRepo {
	return &stateRepo{
		hosts: make(map[string]string),
	}
}

// reserve claims a host name. The slot holds an empty container ID until commit.
func (r *stateRepo) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hosts[name]; exists {
		return apperrors.Validation("name", fmt.Sprintf("host %s already exists", name))
	}
	r.hosts[name] = ""
	return nil
}

// commit records the container created for a reserved name.
func (r *stateRepo) commit(name, containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = containerID
}

// release forgets a host. Returns the container ID if it existed.
func (r *stateRepo) release(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.hosts[name]
	if exists {
		delete(r.hosts, name)
	}
	return id, exists
}
