package services_test

import (
	"context"
	"testing"
	"time"

	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

func newTestAuditReader(t *testing.T) (*services.AuditReader, *testStack) {
	t.Helper()
	stack := newTestStack(t)
	reader := services.NewAuditReader(stack.store, stack.ledger, testLogger())
	return reader, stack
}

func TestVerifyIntegrityPasses(t *testing.T) {
	reader, stack := newTestAuditReader(t)
	ctx := context.Background()

	userID := uniqueID("user")
	stack.gateway.setBalance(userID, 500)
	tx, err := stack.ledger.ProcessDebit(ctx, services.TransactionParams{
		UserID:         userID,
		ResourceID:     uniqueID("perf"),
		Amount:         100,
		Reason:         "queue_entry_fee",
		IdempotencyKey: uniqueID("idem"),
	})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	report, err := reader.VerifyIntegrity(ctx, tx.TransactionID)
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if !report.Valid {
		t.Errorf("Untouched record should verify, issues: %v", report.Issues)
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	reader, stack := newTestAuditReader(t)
	ctx := context.Background()

	userID := uniqueID("user")
	stack.gateway.setBalance(userID, 500)
	tx, err := stack.ledger.ProcessDebit(ctx, services.TransactionParams{
		UserID:         userID,
		ResourceID:     uniqueID("perf"),
		Amount:         100,
		Reason:         "queue_entry_fee",
		IdempotencyKey: uniqueID("idem"),
	})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	// Rewrite the stored amount behind the ledger's back.
	tx.Amount = 1
	if err := stack.store.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("Failed to overwrite record: %v", err)
	}

	report, err := reader.VerifyIntegrity(ctx, tx.TransactionID)
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if report.Valid {
		t.Fatal("Altered record must fail verification")
	}
	if len(report.Issues) == 0 {
		t.Error("Report should name the discrepancies")
	}
}

func TestVerifyIntegrityFlagsNonCompleted(t *testing.T) {
	reader, stack := newTestAuditReader(t)
	ctx := context.Background()

	userID := uniqueID("user")
	stack.gateway.setBalance(userID, 500)
	stack.gateway.failCalls(1)
	tx, err := stack.ledger.ProcessDebit(ctx, services.TransactionParams{
		UserID:         userID,
		ResourceID:     uniqueID("perf"),
		Amount:         100,
		Reason:         "queue_entry_fee",
		IdempotencyKey: uniqueID("idem"),
	})
	if err == nil {
		t.Fatal("Debit through failing gateway should error")
	}

	report, err := reader.VerifyIntegrity(ctx, tx.TransactionID)
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if report.Valid {
		t.Error("Failed record must not claim integrity")
	}
}

func TestTrailOrderingAndFilters(t *testing.T) {
	reader, stack := newTestAuditReader(t)
	ctx := context.Background()

	userID := uniqueID("user")
	resourceID := uniqueID("perf")
	otherResource := uniqueID("perf")
	base := time.Now().Add(-time.Hour)

	for i, res := range []string{resourceID, resourceID, otherResource} {
		event := &models.AuditEvent{
			EventID:    models.GenerateEventID(),
			EventType:  models.EventQueueJoined,
			ResourceID: res,
			UserID:     userID,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := stack.store.AppendAuditEvent(ctx, event); err != nil {
			t.Fatalf("Failed to append event %d: %v", i, err)
		}
	}

	userTrail, err := reader.TrailByUser(ctx, userID, base.Add(-time.Minute), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("TrailByUser failed: %v", err)
	}
	if len(userTrail) != 3 {
		t.Fatalf("User trail should span resources, got %d events", len(userTrail))
	}
	for i := 1; i < len(userTrail); i++ {
		if userTrail[i].Timestamp.Before(userTrail[i-1].Timestamp) {
			t.Fatal("Trail must be oldest first")
		}
	}

	resourceTrail, err := reader.TrailByResource(ctx, resourceID, base.Add(-time.Minute), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("TrailByResource failed: %v", err)
	}
	if len(resourceTrail) != 2 {
		t.Errorf("Resource trail should exclude other performers, got %d", len(resourceTrail))
	}

	// Range bounds clip the window.
	clipped, err := reader.TrailByUser(ctx, userID, base.Add(30*time.Second), base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("TrailByUser failed: %v", err)
	}
	if len(clipped) != 1 {
		t.Errorf("Clipped range should hold one event, got %d", len(clipped))
	}
}

func TestArchiveMovesOldEvents(t *testing.T) {
	reader, stack := newTestAuditReader(t)
	ctx := context.Background()

	userID := uniqueID("user")
	resourceID := uniqueID("perf")
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	for _, at := range []time.Time{old, recent} {
		event := &models.AuditEvent{
			EventID:    models.GenerateEventID(),
			EventType:  models.EventQueueJoined,
			ResourceID: resourceID,
			UserID:     userID,
			Timestamp:  at,
		}
		if err := stack.store.AppendAuditEvent(ctx, event); err != nil {
			t.Fatalf("Failed to append event: %v", err)
		}
	}

	moved, err := reader.Archive(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if moved == 0 {
		t.Fatal("Archive should move the stale event")
	}

	remaining, err := reader.TrailByUser(ctx, userID, old.Add(-time.Minute), time.Now())
	if err != nil {
		t.Fatalf("TrailByUser failed: %v", err)
	}
	for _, event := range remaining {
		if event.Timestamp.Before(time.Now().Add(-24 * time.Hour)) {
			t.Error("Archived events should leave the live timeline")
		}
	}
}
