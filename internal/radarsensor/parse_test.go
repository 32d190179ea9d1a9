package radarsensor

import "testing"

func TestParseFrame_JSON(t *testing.T) {
	f, err := ParseFrame(`{"speed": 25.5, "unit": "mph"}`, "mps")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Value != 25.5 || f.Unit != "mph" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseFrame_CSV(t *testing.T) {
	f, err := ParseFrame(`"m",20.0`, "mps")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Value != 20.0 || f.Unit != "mps" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseFrame_Whitespace(t *testing.T) {
	f, err := ParseFrame("12.5 mph", "mps")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Value != 12.5 || f.Unit != "mph" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseFrame_BareNumeric(t *testing.T) {
	f, err := ParseFrame("0.7", "mps")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Value != 0.7 || f.Unit != "mps" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseFrame_Unrecognized(t *testing.T) {
	if _, err := ParseFrame("not a frame at all !!", "mps"); err == nil {
		t.Fatal("expected error for unrecognized frame")
	}
}

func TestClassifyAlert_PureFunction(t *testing.T) {
	a := ClassifyAlert(30, 15, 45)
	b := ClassifyAlert(30, 15, 45)
	if a != b {
		t.Fatalf("classification not deterministic: %v vs %v", a, b)
	}
	if a != AlertLow {
		t.Fatalf("expected low, got %v", a)
	}
}

func TestClassifyAlert_Boundaries(t *testing.T) {
	if got := ClassifyAlert(15, 15, 45); got != AlertLow {
		t.Errorf("expected low at exact low threshold, got %v", got)
	}
	if got := ClassifyAlert(45, 15, 45); got != AlertHigh {
		t.Errorf("expected high at exact high threshold, got %v", got)
	}
	if got := ClassifyAlert(14.9, 15, 45); got != AlertNormal {
		t.Errorf("expected normal just below low threshold, got %v", got)
	}
}
