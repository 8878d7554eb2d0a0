package detect

import (
	"sync"
	"testing"
)

func trainedClassifier(t *testing.T) *Classifier {
	t.Helper()
	forest, err := TrainForest(benignSamples(300))
	if err != nil {
		t.Fatalf("TrainForest: %v", err)
	}
	c := NewClassifier(NewMatcher())
	c.SetModel(forest)
	return c
}

func TestEvaluateUntrained(t *testing.T) {
	c := NewClassifier(nil)

	v := c.Evaluate("SELECT name FROM users WHERE id=5")
	if v.Dangerous {
		t.Error("untrained classifier marked benign query dangerous")
	}
	if v.Reason != ReasonUntrained {
		t.Errorf("Reason = %q, want %q", v.Reason, ReasonUntrained)
	}
}

func TestEvaluateRulesBeatModelState(t *testing.T) {
	// The unqualified DELETE must be flagged whether or not a model exists.
	const q = "DELETE FROM users"

	untrained := NewClassifier(nil)
	if v := untrained.Evaluate(q); !v.Dangerous || v.Reason != "delete-without-where" {
		t.Errorf("untrained: Evaluate(%q) = %+v", q, v)
	}

	trained := trainedClassifier(t)
	if v := trained.Evaluate(q); !v.Dangerous || v.Reason != "delete-without-where" {
		t.Errorf("trained: Evaluate(%q) = %+v", q, v)
	}
}

func TestEvaluateRuleShortCircuitsModel(t *testing.T) {
	c := trainedClassifier(t)
	v := c.Evaluate("DROP DATABASE prod")
	if !v.Dangerous {
		t.Fatal("rule match not dangerous")
	}
	if v.Reason != "drop-database" {
		t.Errorf("Reason = %q, want rule name, not %q", v.Reason, ReasonAnomaly)
	}
}

func TestEvaluateTautologyScenario(t *testing.T) {
	c := NewClassifier(nil)
	v := c.Evaluate("SELECT * FROM accounts WHERE 1=1")
	if !v.Dangerous || v.Reason != "tautology" {
		t.Errorf("Evaluate() = %+v, want dangerous/tautology", v)
	}
}

func TestEvaluateTrainedModel(t *testing.T) {
	c := trainedClassifier(t)

	benign := c.Evaluate("SELECT name FROM users WHERE id = 42")
	if benign.Dangerous {
		t.Errorf("benign query flagged: %+v", benign)
	}
	if benign.Reason != "" {
		t.Errorf("benign Reason = %q, want empty", benign.Reason)
	}

	// No rule matches this monster, but it is far outside the training set.
	weird := "SELECT " + repeatColumns(140) + " FROM pg_catalog.pg_tables"
	outlier := c.Evaluate(weird)
	if !outlier.Dangerous || outlier.Reason != ReasonAnomaly {
		t.Errorf("outlier verdict = %+v, want dangerous/%s", outlier, ReasonAnomaly)
	}
}

func repeatColumns(n int) string {
	cols := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			cols += ", "
		}
		cols += "very_long_generated_column_name_with_padding"
	}
	return cols
}

func TestEvaluateIdempotent(t *testing.T) {
	queries := []string{
		"DELETE FROM users",
		"SELECT name FROM users WHERE id=5",
		"SELECT * FROM accounts WHERE 1=1",
	}

	for _, c := range []*Classifier{NewClassifier(nil), trainedClassifier(t)} {
		for _, q := range queries {
			if a, b := c.Evaluate(q), c.Evaluate(q); a != b {
				t.Errorf("Evaluate(%q) not idempotent: %+v vs %+v", q, a, b)
			}
		}
	}
}

func TestSetModelNilIgnored(t *testing.T) {
	c := trainedClassifier(t)
	c.SetModel(nil)
	if c.Model() == nil {
		t.Error("SetModel(nil) cleared the model")
	}
}

func TestEvaluateDuringSwap(t *testing.T) {
	c := NewClassifier(nil)
	forest, err := TrainForest(benignSamples(100))
	if err != nil {
		t.Fatalf("TrainForest: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Evaluate("SELECT name FROM users WHERE id=5")
			}
		}
	}()

	for i := 0; i < 100; i++ {
		c.SetModel(forest)
	}
	close(stop)
	wg.Wait()
}
