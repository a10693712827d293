package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ventelive/livebridge/consumer"
	"github.com/ventelive/livebridge/db"
	"github.com/ventelive/livebridge/testutil"
)

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestGetByPlatformIDAbsent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &db.CustomerStore{DB: database}

	c, err := store.GetByPlatformID(context.Background(), uniqueID("nobody"))
	if err != nil {
		t.Fatalf("GetByPlatformID: %v", err)
	}
	if c != nil {
		t.Errorf("expected nil for absent customer, got %+v", c)
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &db.CustomerStore{DB: database}
	ctx := context.Background()

	id := uniqueID("bob")
	cust := &consumer.Customer{PlatformID: id, DisplayName: "Bob", PlatformSourced: true}
	if err := store.Create(ctx, cust); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cust.ID == 0 {
		t.Error("Create did not populate ID")
	}

	got, err := store.GetByPlatformID(ctx, id)
	if err != nil {
		t.Fatalf("GetByPlatformID: %v", err)
	}
	if got == nil {
		t.Fatal("created customer not found")
	}
	if got.ID != cust.ID || got.DisplayName != "Bob" || !got.PlatformSourced || got.Phone != "" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestCreateConflictKeepsExistingRow(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &db.CustomerStore{DB: database}
	ctx := context.Background()

	id := uniqueID("dup")
	first := &consumer.Customer{PlatformID: id, DisplayName: "First", PlatformSourced: true}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second := &consumer.Customer{PlatformID: id, DisplayName: "Second", PlatformSourced: true}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("conflicting Create should succeed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("conflict returned id %d, want existing %d", second.ID, first.ID)
	}

	got, err := store.GetByPlatformID(ctx, id)
	if err != nil {
		t.Fatalf("GetByPlatformID: %v", err)
	}
	if got.DisplayName != "First" {
		t.Errorf("existing row overwritten: %+v", got)
	}
}
