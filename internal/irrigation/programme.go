package irrigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a programme does not exist.
	ErrNotFound = errors.New("programme not found")
	// ErrConflict is returned by Store.Save when the stored version moved on
	// since the programme was read.
	ErrConflict = errors.New("programme was modified concurrently")
	// ErrInvalidStatus is returned for status values outside the closed set.
	ErrInvalidStatus = errors.New("invalid programme status")
	// ErrInvalidProgramme is returned when a programme breaks its invariants.
	ErrInvalidProgramme = errors.New("invalid programme")
)

// Status is the lifecycle state of a programme.
type Status string

const (
	StatusPlanned   Status = "PLANNED"
	StatusReplanned Status = "REPLANNED"
	StatusAdjusted  Status = "ADJUSTED"
	StatusExecuted  Status = "EXECUTED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus validates a status string at a storage or API boundary.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPlanned, StatusReplanned, StatusAdjusted, StatusExecuted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Terminal reports whether the programme is done for this cycle. Unknown
// values are treated as terminal so nothing acts on them.
func (s Status) Terminal() bool {
	switch s {
	case StatusPlanned, StatusReplanned, StatusAdjusted:
		return false
	case StatusExecuted, StatusFailed:
		return true
	default:
		return true
	}
}

// Pending reports whether the adjustment passes should evaluate the
// programme. Adjusted programmes are left alone so volumes never compound.
func (s Status) Pending() bool {
	switch s {
	case StatusPlanned, StatusReplanned:
		return true
	case StatusAdjusted, StatusExecuted, StatusFailed:
		return false
	default:
		return false
	}
}

// Programme is a scheduled irrigation for a parcel.
type Programme struct {
	ID              string    `json:"id"`
	ParcelID        int64     `json:"parcelId"`
	PlannedAt       time.Time `json:"plannedAt"`
	DurationMinutes int       `json:"durationMinutes"`
	VolumeLiters    float64   `json:"volumeLiters"`
	Status          Status    `json:"status"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Validate checks the invariants a newly created or edited programme must hold.
func (p Programme) Validate() error {
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	if p.PlannedAt.IsZero() {
		return fmt.Errorf("%w: planned timestamp is required", ErrInvalidProgramme)
	}
	if p.DurationMinutes < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidProgramme)
	}
	if !p.Status.Terminal() && p.VolumeLiters <= 0 {
		return fmt.Errorf("%w: volume must be positive while %s", ErrInvalidProgramme, p.Status)
	}
	return nil
}

// JournalEntry records the outcome of one execution attempt. Entries are
// append-only.
type JournalEntry struct {
	ID              string    `json:"id"`
	ProgrammeID     string    `json:"programmeId"`
	ExecutedAt      time.Time `json:"executedAt"`
	DeliveredLiters float64   `json:"deliveredLiters"`
	Remark          string    `json:"remark"`
}

// Store is the schedule store contract shared by the in-memory and SQL
// implementations.
//
// Save is optimistic: it fails with ErrConflict unless p.Version equals the
// stored version, and returns the programme with its new version.
type Store interface {
	Create(ctx context.Context, p Programme) (Programme, error)
	Get(ctx context.Context, id string) (Programme, error)
	Save(ctx context.Context, p Programme) (Programme, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Programme, error)

	// ListDue returns non-terminal programmes planned at or before now.
	ListDue(ctx context.Context, now time.Time) ([]Programme, error)
	// ListInWindow returns pending programmes planned within [start, end].
	ListInWindow(ctx context.Context, start, end time.Time) ([]Programme, error)

	Append(ctx context.Context, e JournalEntry) (JournalEntry, error)
	Journal(ctx context.Context, programmeID string) ([]JournalEntry, error)
}
