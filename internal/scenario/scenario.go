// Package scenario runs seed scenarios against a provisioned environment
// and drives a whole test session from pool creation to teardown.
package scenario

import (
	"fmt"
	"strings"

	"seedharness/internal/apperrors"
	"seedharness/internal/reset"
	"seedharness/internal/seed"
)

// Replication modes a scenario can run under.
const (
	ModeGTID       = "gtid"
	ModePositional = "positional"
)

// Scenario is one seed between the source and target agents.
type Scenario struct {
	Name   string
	Method seed.Method
	Mode   string

	// Fixtures run before the scenario, ahead of the per-scenario target reset.
	Fixtures []reset.Procedure

	// RequiresMySQL8 skips the scenario when the server reports a 5.x version.
	RequiresMySQL8 bool
}

// New builds the scenario for method under mode.
func New(method seed.Method, mode string) Scenario {
	sc := Scenario{
		Name:           fmt.Sprintf("%s-%s", strings.ToLower(string(method)), mode),
		Method:         method,
		Mode:           mode,
		RequiresMySQL8: method == seed.ClonePlugin,
	}
	if mode == ModeGTID {
		sc.Fixtures = append(sc.Fixtures, reset.EnableGTID())
	} else {
		sc.Fixtures = append(sc.Fixtures, reset.DisableGTID())
	}
	if method == seed.LVM {
		sc.Fixtures = append(sc.Fixtures, reset.ResetLVM(reset.DefaultLVMVolume))
	}
	return sc
}

// Catalog returns every known scenario in run order.
func Catalog() []Scenario {
	var all []Scenario
	for _, method := range []seed.Method{seed.Mysqldump, seed.Xtrabackup, seed.LVM, seed.ClonePlugin} {
		for _, mode := range []string{ModeGTID, ModePositional} {
			all = append(all, New(method, mode))
		}
	}
	return all
}

// Select returns the scenarios called names, in catalog order. No names
// selects the whole catalog.
func Select(catalog []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return catalog, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var selected []Scenario
	for _, sc := range catalog {
		if wanted[sc.Name] {
			selected = append(selected, sc)
			delete(wanted, sc.Name)
		}
	}
	for name := range wanted {
		return nil, apperrors.Validation("scenario", fmt.Sprintf("unknown scenario %q", name))
	}
	return selected, nil
}
