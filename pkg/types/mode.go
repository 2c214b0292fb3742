package types

import (
	"fmt"
	"strings"
)

// Mode selects whether a relocating operation only plans or also moves files.
type Mode int

const (
	ModeDryRun Mode = iota
	ModeCommit
)

func (m Mode) String() string {
	switch m {
	case ModeDryRun:
		return "dry-run"
	case ModeCommit:
		return "commit"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeDryRun || m == ModeCommit }

// ParseMode accepts "dry-run" and "commit". An empty string is a dry run.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dry-run", "dryrun":
		return ModeDryRun, nil
	case "commit":
		return ModeCommit, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
