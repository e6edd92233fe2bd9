package alerts

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"autosniper/internal/models"
)

// Property: the buffer never exceeds its capacity and always keeps the
// newest entries, whatever the insertion count.
func TestProperty_CapacityBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("buffer is capped and newest-first", prop.ForAll(
		func(capacity, inserts int) bool {
			mgr := NewManagerWithCapacity(capacity, zerolog.Nop())
			for i := 0; i < inserts; i++ {
				mgr.Add(models.AlertSystem, models.SeverityInfo, fmt.Sprintf("alert %d", i), nil)
			}

			if mgr.Count() > capacity {
				return false
			}
			recent := mgr.Recent(1)
			if inserts > 0 {
				// Head of the buffer is the last alert added.
				return len(recent) == 1 && recent[0].Message == fmt.Sprintf("alert %d", inserts-1)
			}
			return len(recent) == 0
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

func TestAddEvictsOldest(t *testing.T) {
	mgr := NewManagerWithCapacity(3, zerolog.Nop())
	for i := 0; i < 5; i++ {
		mgr.Add(models.AlertSystem, models.SeverityInfo, fmt.Sprintf("alert %d", i), nil)
	}

	recent := mgr.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained alerts, got %d", len(recent))
	}
	if recent[0].Message != "alert 4" || recent[2].Message != "alert 2" {
		t.Fatalf("oldest alerts were not evicted: %v, %v", recent[0].Message, recent[2].Message)
	}
}

func TestAcknowledge(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	alert := mgr.Add(models.AlertRisk, models.SeverityCritical, "breaker open", nil)

	if !mgr.HasCriticalIssues() {
		t.Fatal("unacknowledged critical alert should be reported")
	}
	if !mgr.Acknowledge(alert.ID) {
		t.Fatal("acknowledge failed for existing alert")
	}
	if mgr.HasCriticalIssues() {
		t.Fatal("acknowledged critical alert should not be reported")
	}
	if mgr.Acknowledge("missing") {
		t.Fatal("acknowledge of unknown id should fail")
	}
}

func TestDetailExtraction(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	alert := mgr.Add(models.AlertTrade, models.SeverityError, "fill failed", map[string]interface{}{
		"position_id": "pos_1",
		"symbol":      "BTCUSDT",
	})
	if alert.PositionID != "pos_1" || alert.Symbol != "BTCUSDT" {
		t.Fatalf("details not promoted: %+v", alert)
	}
}

func TestFilters(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	mgr.Add(models.AlertTrade, models.SeverityInfo, "a", nil)
	mgr.Add(models.AlertRisk, models.SeverityWarning, "b", nil)
	mgr.Add(models.AlertRisk, models.SeverityError, "c", nil)

	if got := len(mgr.ByType(models.AlertRisk)); got != 2 {
		t.Fatalf("expected 2 risk alerts, got %d", got)
	}
	if got := len(mgr.BySeverity(models.SeverityWarning)); got != 1 {
		t.Fatalf("expected 1 warning, got %d", got)
	}
	if got := len(mgr.Unacknowledged()); got != 3 {
		t.Fatalf("expected 3 unacknowledged, got %d", got)
	}
	counts := mgr.Counts()
	if counts[models.SeverityInfo] != 1 || counts[models.SeverityError] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	mgr.Add(models.AlertSync, models.SeverityWarning, "drift detected", nil)
	mgr.Add(models.AlertHealth, models.SeverityError, "detector down", nil)

	data, err := mgr.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	restored := NewManager(zerolog.Nop())
	if err := restored.Import(data); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if restored.Count() != 2 {
		t.Fatalf("expected 2 restored alerts, got %d", restored.Count())
	}
}

func TestImportRejectsInvalidEntries(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	bad := []byte(`[{"id":"a1","severity":"loud","message":"x","timestamp":"2026-01-01T00:00:00Z"}]`)
	if err := mgr.Import(bad); err == nil {
		t.Fatal("invalid severity should be rejected")
	}
	if err := mgr.Import([]byte(`not json`)); err == nil {
		t.Fatal("malformed backup should be rejected")
	}
}
