package logx

import "testing"

func TestDomainFiltering(t *testing.T) {
	defer SetDebug(false, nil)

	SetDebug(false, nil)
	if IsDebugEnabledForDomain("workspace") {
		t.Error("debug disabled globally, domain should be off")
	}

	SetDebug(true, nil)
	if !IsDebugEnabledForDomain("workspace") {
		t.Error("debug enabled with no domain list should enable all domains")
	}

	SetDebug(true, []string{"plan", "workflow"})
	if !IsDebugEnabledForDomain("plan") {
		t.Error("listed domain should be enabled")
	}
	if IsDebugEnabledForDomain("workspace") {
		t.Error("unlisted domain should be disabled")
	}
}

func TestWithComponent(t *testing.T) {
	base := NewLogger("workflow")
	derived := base.WithComponent("workflow:create-1-main")

	if derived.GetComponent() != "workflow:create-1-main" {
		t.Errorf("unexpected component: %s", derived.GetComponent())
	}
	if base.GetComponent() != "workflow" {
		t.Error("WithComponent must not mutate the receiver")
	}
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("clone failed: %s", "timeout")
	if err == nil || err.Error() != "clone failed: timeout" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("wrapping nil must return nil")
	}
}
