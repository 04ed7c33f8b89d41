package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
)

var base = time.Date(2026, 6, 10, 6, 0, 0, 0, time.UTC)

var sqliteSeq atomic.Int64

func stores(t *testing.T) map[string]irrigation.Store {
	t.Helper()

	name := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	sq, err := OpenSQLite(name)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]irrigation.Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func planned(offset time.Duration, status irrigation.Status) irrigation.Programme {
	return irrigation.Programme{
		ParcelID:        1,
		PlannedAt:       base.Add(offset),
		DurationMinutes: 30,
		VolumeLiters:    100,
		Status:          status,
	}
}

func TestStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := s.Create(ctx, planned(0, irrigation.StatusPlanned))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if created.ID == "" || created.Version != 1 {
				t.Fatalf("expected id and version 1, got %q v%d", created.ID, created.Version)
			}

			got, err := s.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !got.PlannedAt.Equal(created.PlannedAt) || got.VolumeLiters != 100 || got.Status != irrigation.StatusPlanned {
				t.Fatalf("unexpected programme: %+v", got)
			}

			if err := s.Delete(ctx, created.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, created.ID); !errors.Is(err, irrigation.ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := s.Delete(ctx, created.ID); !errors.Is(err, irrigation.ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p := planned(0, "RUNNING")
			if _, err := s.Create(ctx, p); !errors.Is(err, irrigation.ErrInvalidStatus) {
				t.Fatalf("expected ErrInvalidStatus, got %v", err)
			}
			p = planned(0, irrigation.StatusPlanned)
			p.VolumeLiters = 0
			if _, err := s.Create(ctx, p); !errors.Is(err, irrigation.ErrInvalidProgramme) {
				t.Fatalf("expected ErrInvalidProgramme, got %v", err)
			}
		})
	}
}

func TestStore_SaveIsOptimistic(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := s.Create(ctx, planned(0, irrigation.StatusPlanned))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			first := created
			first.VolumeLiters = 60
			first.Status = irrigation.StatusAdjusted
			saved, err := s.Save(ctx, first)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if saved.Version != 2 {
				t.Fatalf("expected version 2, got %d", saved.Version)
			}

			stale := created
			stale.Status = irrigation.StatusReplanned
			if _, err := s.Save(ctx, stale); !errors.Is(err, irrigation.ErrConflict) {
				t.Fatalf("expected ErrConflict for stale write, got %v", err)
			}

			got, _ := s.Get(ctx, created.ID)
			if got.Status != irrigation.StatusAdjusted || got.VolumeLiters != 60 {
				t.Fatalf("stale write leaked: %+v", got)
			}

			missing := saved
			missing.ID = "does-not-exist"
			if _, err := s.Save(ctx, missing); !errors.Is(err, irrigation.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			bad := saved
			bad.Status = "DONE"
			if _, err := s.Save(ctx, bad); !errors.Is(err, irrigation.ErrInvalidStatus) {
				t.Fatalf("expected ErrInvalidStatus, got %v", err)
			}
		})
	}
}

func TestStore_Listings(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ids := map[string]string{}
			for label, p := range map[string]irrigation.Programme{
				"past-planned":    planned(-2*time.Hour, irrigation.StatusPlanned),
				"past-adjusted":   planned(-time.Hour, irrigation.StatusAdjusted),
				"past-executed":   planned(-3*time.Hour, irrigation.StatusExecuted),
				"future-planned":  planned(24*time.Hour, irrigation.StatusPlanned),
				"future-replan":   planned(48*time.Hour, irrigation.StatusReplanned),
				"future-adjusted": planned(30*time.Hour, irrigation.StatusAdjusted),
				"far-future":      planned(200*time.Hour, irrigation.StatusPlanned),
			} {
				created, err := s.Create(ctx, p)
				if err != nil {
					t.Fatalf("Create %s: %v", label, err)
				}
				ids[created.ID] = label
			}

			all, err := s.List(ctx)
			if err != nil || len(all) != 7 {
				t.Fatalf("List: %d, %v", len(all), err)
			}
			for i := 1; i < len(all); i++ {
				if all[i].PlannedAt.Before(all[i-1].PlannedAt) {
					t.Fatalf("List not ordered by planned time")
				}
			}

			due, err := s.ListDue(ctx, base)
			if err != nil {
				t.Fatalf("ListDue: %v", err)
			}
			assertLabels(t, "due", due, ids, "past-planned", "past-adjusted")

			window, err := s.ListInWindow(ctx, base, base.Add(72*time.Hour))
			if err != nil {
				t.Fatalf("ListInWindow: %v", err)
			}
			assertLabels(t, "window", window, ids, "future-planned", "future-replan")
		})
	}
}

func assertLabels(t *testing.T, what string, got []irrigation.Programme, ids map[string]string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d programmes, got %d", what, len(want), len(got))
	}
	seen := map[string]bool{}
	for _, p := range got {
		seen[ids[p.ID]] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("%s: missing %s", what, w)
		}
	}
}

func TestStore_Journal(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, _ := s.Create(ctx, planned(0, irrigation.StatusPlanned))
			b, _ := s.Create(ctx, planned(time.Hour, irrigation.StatusPlanned))

			if _, err := s.Append(ctx, irrigation.JournalEntry{ProgrammeID: "nope", ExecutedAt: base}); !errors.Is(err, irrigation.ErrNotFound) {
				t.Fatalf("expected ErrNotFound for unknown programme, got %v", err)
			}

			entries := []irrigation.JournalEntry{
				{ProgrammeID: b.ID, ExecutedAt: base.Add(2 * time.Minute), DeliveredLiters: 80, Remark: "second"},
				{ProgrammeID: a.ID, ExecutedAt: base.Add(time.Minute), DeliveredLiters: 100, Remark: "first"},
			}
			for _, e := range entries {
				saved, err := s.Append(ctx, e)
				if err != nil {
					t.Fatalf("Append: %v", err)
				}
				if saved.ID == "" {
					t.Fatalf("expected journal id")
				}
			}

			all, err := s.Journal(ctx, "")
			if err != nil || len(all) != 2 {
				t.Fatalf("Journal(all): %d, %v", len(all), err)
			}
			if all[0].Remark != "first" || all[1].Remark != "second" {
				t.Fatalf("journal not ordered by execution time: %+v", all)
			}

			onlyA, err := s.Journal(ctx, a.ID)
			if err != nil || len(onlyA) != 1 || onlyA[0].DeliveredLiters != 100 {
				t.Fatalf("Journal(a): %+v, %v", onlyA, err)
			}
		})
	}
}
