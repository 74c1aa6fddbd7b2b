package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/fsanet/internal/fsa"
	"github.com/nerrad567/fsanet/internal/infrastructure/database"
	"github.com/nerrad567/fsanet/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecord_NewAndRepeat(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	err := repo.Record(ctx, []Sighting{{Address: "192.168.137.101", Type: "Actuator", SerialNumber: "A1", At: t0}})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	// A later sighting without identity fields keeps the stored ones.
	err = repo.Record(ctx, []Sighting{{Address: "192.168.137.101", At: t0.Add(time.Minute)}})
	if err != nil {
		t.Fatalf("second Record() error = %v", err)
	}

	got, err := repo.Get(ctx, "192.168.137.101")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := &Actuator{
		Address:      "192.168.137.101",
		Type:         "Actuator",
		SerialNumber: "A1",
		FirstSeen:    t0,
		LastSeen:     t0.Add(time.Minute),
		SeenCount:    2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_OutOfOrderKeepsLatest(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	late := t0.Add(500 * time.Millisecond)
	if err := repo.Record(ctx, []Sighting{{Address: "10.0.0.1", At: late}}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, []Sighting{{Address: "10.0.0.1", At: t0}}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.Get(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.LastSeen.Equal(late) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, late)
	}
	if got.SeenCount != 2 {
		t.Errorf("SeenCount = %d, want 2", got.SeenCount)
	}
}

func TestRecord_Empty(t *testing.T) {
	repo := setupRepo(t)
	if err := repo.Record(context.Background(), nil); err != nil {
		t.Errorf("Record(nil) error = %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := setupRepo(t)
	if _, err := repo.Get(context.Background(), "10.9.9.9"); !errors.Is(err, ErrActuatorNotFound) {
		t.Errorf("Get() error = %v, want ErrActuatorNotFound", err)
	}
}

func TestListAndCount(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	found := []fsa.Found{
		{Address: "192.168.137.101", Type: fsa.TypeActuator},
		{Address: "192.168.137.102", Type: fsa.TypeActuator},
		{Address: "192.168.137.200", Type: fsa.TypeCtrlBox},
	}
	if err := repo.Record(ctx, SightingsFromFound(found, t0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, []Sighting{{Address: "192.168.137.102", At: t0.Add(time.Second)}}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var order []string
	for _, a := range all {
		order = append(order, a.Address)
	}
	want := []string{"192.168.137.102", "192.168.137.101", "192.168.137.200"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}

	actuators, err := repo.ListByType(ctx, fsa.TypeActuator)
	if err != nil {
		t.Fatalf("ListByType() error = %v", err)
	}
	if len(actuators) != 2 {
		t.Errorf("ListByType(Actuator) = %d rows, want 2", len(actuators))
	}
}

func TestDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, []Sighting{{Address: "10.0.0.1", At: t0}}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Delete(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "10.0.0.1"); !errors.Is(err, ErrActuatorNotFound) {
		t.Errorf("second Delete() error = %v, want ErrActuatorNotFound", err)
	}
}

func TestSightingsFromFound(t *testing.T) {
	got := SightingsFromFound([]fsa.Found{{Address: "10.0.0.1", Type: fsa.TypeAbsEncoder, SerialNumber: "E7"}}, t0)
	want := []Sighting{{Address: "10.0.0.1", Type: fsa.TypeAbsEncoder, SerialNumber: "E7", At: t0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SightingsFromFound() mismatch (-want +got):\n%s", diff)
	}
}
