package scheduler

import (
	"testing"
	"time"

	"github.com/shaiso/Dossier/internal/domain"
)

func TestCalculateNextDueCron(t *testing.T) {
	sched := &domain.BriefingSchedule{
		CronExpr: "0 7 * * *", // каждый день в 7:00
		Timezone: "UTC",
	}

	from := time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC)
	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue returned error: %v", err)
	}

	want := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next due = %v, want %v", next, want)
	}

	// После 7:00 — следующий день
	from = time.Date(2025, 3, 10, 7, 0, 1, 0, time.UTC)
	next, err = CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue returned error: %v", err)
	}

	want = time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next due = %v, want %v", next, want)
	}
}

func TestCalculateNextDueCronTimezone(t *testing.T) {
	sched := &domain.BriefingSchedule{
		CronExpr: "0 7 * * *",
		Timezone: "Europe/Moscow", // UTC+3
	}

	from := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC) // 04:00 Moscow
	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue returned error: %v", err)
	}

	// 07:00 Moscow == 04:00 UTC
	want := time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next due = %v, want %v", next, want)
	}
}

func TestCalculateNextDueInterval(t *testing.T) {
	sched := &domain.BriefingSchedule{
		IntervalSec: 3600,
		Timezone:    "UTC",
	}

	from := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue returned error: %v", err)
	}

	want := from.Add(time.Hour)
	if !next.Equal(want) {
		t.Errorf("next due = %v, want %v", next, want)
	}
}

func TestCalculateNextDueInvalidTimezone(t *testing.T) {
	sched := &domain.BriefingSchedule{
		IntervalSec: 60,
		Timezone:    "Not/AZone",
	}

	// Невалидный timezone откатывается на UTC, а не падает
	if _, err := CalculateNextDue(sched, time.Now()); err != nil {
		t.Errorf("CalculateNextDue with bad timezone returned error: %v", err)
	}
}

func TestCalculateNextDueEmptySchedule(t *testing.T) {
	sched := &domain.BriefingSchedule{Timezone: "UTC"}

	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Error("CalculateNextDue should fail for schedule without cron or interval")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := ValidateCronExpr("0 7 * *"); err == nil {
		t.Error("four-field expression accepted")
	}
}
