package features

import "testing"

func TestDefaults(t *testing.T) {
	m := Defaults(true, false, true)

	if !m.IsEnabled(FeatureReportCache) {
		t.Error("Expected report cache enabled")
	}
	if m.IsEnabled(FeatureNotifications) {
		t.Error("Expected notifications disabled")
	}
	if m.IsEnabled("unknown") {
		t.Error("Expected unknown flag disabled")
	}
	if len(m.GetAll()) != 3 {
		t.Errorf("Expected 3 flags, got %d", len(m.GetAll()))
	}
}

func TestSet(t *testing.T) {
	m := Defaults(false, false, false)

	if !m.Set(FeatureNotifications, true) {
		t.Fatal("Expected known flag to be settable")
	}
	if !m.IsEnabled(FeatureNotifications) {
		t.Error("Expected notifications enabled")
	}
	if m.Set("unknown", true) {
		t.Error("Expected unknown flag to be rejected")
	}
}

func TestNilManagerIsDisabled(t *testing.T) {
	var m *Manager
	if m.IsEnabled(FeatureReportCache) {
		t.Error("Expected nil manager to report disabled")
	}
}
