package observer

import "testing"

func TestCostCalculatorKnownModel(t *testing.T) {
	c := NewCostCalculator(nil)

	// gemini-2.5-flash: $0.15/M input, $0.60/M output.
	got := c.Calculate("gemini-2.5-flash", 1_000_000, 1_000_000)
	want := 0.15 + 0.60
	if got != want {
		t.Errorf("Calculate = %f, want %f", got, want)
	}
}

func TestCostCalculatorUnknownModel(t *testing.T) {
	c := NewCostCalculator(nil)
	if got := c.Calculate("mystery-model", 1000, 1000); got != 0.0 {
		t.Errorf("Calculate for unknown model = %f, want 0.0", got)
	}
}

func TestCostCalculatorOverrides(t *testing.T) {
	c := NewCostCalculator(map[string]ModelPricing{
		"gemini-2.5-flash": {1.00, 2.00},
		"custom-model":     {0.50, 0.50},
	})

	if got := c.Calculate("gemini-2.5-flash", 1_000_000, 0); got != 1.00 {
		t.Errorf("overridden pricing = %f, want 1.00", got)
	}
	if got := c.Calculate("custom-model", 0, 1_000_000); got != 0.50 {
		t.Errorf("custom pricing = %f, want 0.50", got)
	}
	// Non-overridden defaults survive the merge.
	if got := c.Calculate("gemini-2.5-pro", 1_000_000, 0); got != 1.25 {
		t.Errorf("default pricing = %f, want 1.25", got)
	}
}
