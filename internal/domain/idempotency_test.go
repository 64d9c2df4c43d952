package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewIdempotencyRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NewIdempotencyRecord("  key-1 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Key != "key-1" || record.RequestHash != "hash" {
		t.Fatalf("key and hash must be trimmed: %+v", record)
	}
	if record.Status != IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", record.Status)
	}
	if !record.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) {
		t.Fatalf("expected default ttl, got %s", record.TTLAt)
	}

	if _, err := NewIdempotencyRecord(" ", "hash", now, now); !errors.Is(err, ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := NewIdempotencyRecord("key", "", now, now); !errors.Is(err, ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRecordExpiryAndConflict(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{Key: "k", RequestHash: "h", TTLAt: now}

	if !record.Expired(now) {
		t.Fatal("record is expired exactly at its ttl")
	}
	if record.Expired(now.Add(-time.Second)) {
		t.Fatal("record must be alive before its ttl")
	}

	if err := record.Conflict("h"); !errors.Is(err, ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("same hash: got %v", err)
	}
	if err := record.Conflict("other"); !errors.Is(err, ErrIdempotencyHashMismatch) {
		t.Fatalf("different hash: got %v", err)
	}
	if !IsIdempotencyConflict(record.Conflict("other")) {
		t.Fatal("mismatch must count as a conflict")
	}
}

func TestIdempotencyStatusValid(t *testing.T) {
	for status, want := range map[IdempotencyStatus]bool{
		IdempotencyStatusProcessing: true,
		IdempotencyStatusDone:       true,
		IdempotencyStatusFailed:     true,
		"broken":                    false,
		"":                          false,
	} {
		if got := status.Valid(); got != want {
			t.Errorf("status %q valid=%v, want %v", status, got, want)
		}
	}
}
