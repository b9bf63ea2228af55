package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
	"github.com/openrelief/responder/internal/port/dispatch"
)

// fakeTool implements dispatch.Tool with a scripted per-call error sequence.
type fakeTool struct {
	name  string
	errs  []error // nil entry = success; reused last entry when exhausted
	calls atomic.Int32
}

func (f *fakeTool) Name() string                        { return f.name }
func (f *fakeTool) Capabilities() dispatch.Capabilities { return dispatch.Capabilities{} }

func (f *fakeTool) Send(context.Context, dispatch.Payload) (dispatch.Delivery, error) {
	n := int(f.calls.Add(1)) - 1
	if len(f.errs) == 0 {
		return dispatch.Delivery{ProviderRef: "ref-1"}, nil
	}
	if n >= len(f.errs) {
		n = len(f.errs) - 1
	}
	if f.errs[n] != nil {
		return dispatch.Delivery{}, f.errs[n]
	}
	return dispatch.Delivery{ProviderRef: "ref-1"}, nil
}

func testDispatchConfig() (config.Dispatch, config.Breaker) {
	cfg := config.Defaults()
	cfg.Dispatch.ToolTimeout = time.Second
	cfg.Dispatch.MaxAttempts = 3
	return cfg.Dispatch, cfg.Breaker
}

func newTestDispatcher(t *testing.T, channels []Channel) *Dispatcher {
	t.Helper()
	dcfg, bcfg := testDispatchConfig()
	d := NewDispatcher(channels, dcfg, bcfg)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func dispatchContext(level disaster.Severity) *situation.Context {
	return &situation.Context{
		Event: disaster.Event{
			ID:       "dx-1",
			Kind:     disaster.KindFlood,
			Severity: level,
			Location: disaster.Location{Latitude: 23.81, Longitude: 90.41, Address: "Dhaka North"},
		},
		Population: &situation.Population{Total: 120000},
		BuiltAt:    time.Now(),
	}
}

func TestSelectToolsFollowsConfiguredPreference(t *testing.T) {
	d := newTestDispatcher(t, []Channel{
		{Name: "voice", Tool: &fakeTool{name: "log"}},
		{Name: "sms", Tool: &fakeTool{name: "log"}},
		{Name: "push", Tool: &fakeTool{name: "log"}},
	})

	got := d.SelectTools(alert.LevelCritical)
	want := []string{"voice", "sms", "push"}
	if len(got) != len(want) {
		t.Fatalf("got %d channels, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("channel[%d] = %s, want %s", i, got[i].Name, name)
		}
	}

	if got := d.SelectTools(alert.LevelLow); len(got) != 0 {
		t.Fatalf("low level should have no bound channels here, got %d", len(got))
	}
}

func TestDispatchAllDelivered(t *testing.T) {
	d := newTestDispatcher(t, []Channel{
		{Name: "sms", Tool: &fakeTool{name: "log"}},
		{Name: "push", Tool: &fakeTool{name: "log"}},
	})

	pri := &alert.Priority{Level: alert.LevelHigh, ResponseBudget: 15 * time.Minute}
	out, err := d.DispatchAlerts(context.Background(), pri, dispatchContext(disaster.SeverityHigh))
	if err != nil {
		t.Fatalf("DispatchAlerts: %v", err)
	}
	if out.Status != alert.AllDelivered {
		t.Fatalf("status = %s, want %s", out.Status, alert.AllDelivered)
	}
	if len(out.Attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(out.Attempts))
	}
	for _, a := range out.Attempts {
		if a.Status != alert.AttemptSuccess {
			t.Errorf("attempt %s status = %s, want success", a.Channel, a.Status)
		}
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	transient := errors.New("connection reset")
	tool := &fakeTool{name: "webhook", errs: []error{transient, transient, nil}}
	d := newTestDispatcher(t, []Channel{{Name: "push", Tool: tool}})

	pri := &alert.Priority{Level: alert.LevelMedium}
	out, err := d.DispatchAlerts(context.Background(), pri, dispatchContext(disaster.SeverityMedium))
	if err != nil {
		t.Fatalf("DispatchAlerts: %v", err)
	}
	if out.Status != alert.AllDelivered {
		t.Fatalf("status = %s, want %s", out.Status, alert.AllDelivered)
	}

	statuses := make([]alert.AttemptStatus, 0, len(out.Attempts))
	for _, a := range out.Attempts {
		statuses = append(statuses, a.Status)
	}
	want := []alert.AttemptStatus{alert.AttemptRetried, alert.AttemptRetried, alert.AttemptSuccess}
	if len(statuses) != len(want) {
		t.Fatalf("attempt log %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("attempt log %v, want %v", statuses, want)
		}
	}
}

func TestDispatchFallsThroughToNextChannel(t *testing.T) {
	down := errors.New("provider unavailable")
	d := newTestDispatcher(t, []Channel{
		{Name: "sms", Tool: &fakeTool{name: "twilio", errs: []error{down}}},
		{Name: "push", Tool: &fakeTool{name: "log"}},
	})

	pri := &alert.Priority{Level: alert.LevelHigh}
	out, err := d.DispatchAlerts(context.Background(), pri, dispatchContext(disaster.SeverityHigh))
	if err != nil {
		t.Fatalf("partial dispatch should not return an error: %v", err)
	}
	if out.Status != alert.Partial {
		t.Fatalf("status = %s, want %s", out.Status, alert.Partial)
	}
	if !out.Delivered() {
		t.Fatal("partial outcome must count as delivered")
	}

	last := out.Attempts[len(out.Attempts)-1]
	if last.Channel != "push" || last.Status != alert.AttemptSuccess {
		t.Fatalf("expected push success last, got %+v", last)
	}
}

func TestDispatchAllFailedReturnsError(t *testing.T) {
	down := errors.New("provider unavailable")
	d := newTestDispatcher(t, []Channel{
		{Name: "sms", Tool: &fakeTool{name: "twilio", errs: []error{down}}},
		{Name: "push", Tool: &fakeTool{name: "fcm", errs: []error{down}}},
	})

	pri := &alert.Priority{Level: alert.LevelHigh}
	out, err := d.DispatchAlerts(context.Background(), pri, dispatchContext(disaster.SeverityHigh))
	if err == nil {
		t.Fatal("expected escalation error for all-failed dispatch")
	}
	if out.Status != alert.AllFailed {
		t.Fatalf("status = %s, want %s", out.Status, alert.AllFailed)
	}
	if out.Delivered() {
		t.Fatal("all-failed outcome must not count as delivered")
	}
	// Each channel burns its full retry budget before giving up.
	if got := len(out.Attempts); got != 6 {
		t.Fatalf("got %d attempts, want 6", got)
	}
}

func TestDispatchSkipsMisconfiguredToolWithoutRetry(t *testing.T) {
	d := newTestDispatcher(t, []Channel{
		{Name: "sms", Tool: &fakeTool{name: "twilio", errs: []error{dispatch.ErrNotConfigured}}},
		{Name: "push", Tool: &fakeTool{name: "log"}},
	})

	pri := &alert.Priority{Level: alert.LevelHigh}
	out, err := d.DispatchAlerts(context.Background(), pri, dispatchContext(disaster.SeverityHigh))
	if err != nil {
		t.Fatalf("DispatchAlerts: %v", err)
	}

	// Misconfiguration fails fast: one attempt on sms, then fall through.
	if out.Attempts[0].Status != alert.AttemptFailed || out.Attempts[0].Try != 1 {
		t.Fatalf("expected immediate failure on sms, got %+v", out.Attempts[0])
	}
	if len(out.Attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(out.Attempts))
	}
}

func TestRetryableSendClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", domain.TransientErr("send", errors.New("timeout")), true},
		{"unclassified", errors.New("connection reset"), true},
		{"channel down", domain.ToolUnavailableErr("send", errors.New("provider offline")), false},
		{"not configured", fmt.Errorf("twilio: %w", dispatch.ErrNotConfigured), false},
	}
	for _, tc := range cases {
		if got := retryableSend(tc.err); got != tc.want {
			t.Errorf("%s: retryableSend = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDispatchBreakerSkipsChannelInCooldown(t *testing.T) {
	down := errors.New("provider unavailable")
	sms := &fakeTool{name: "twilio", errs: []error{down}}
	d := newTestDispatcher(t, []Channel{
		{Name: "sms", Tool: sms},
		{Name: "push", Tool: &fakeTool{name: "log"}},
	})

	pri := &alert.Priority{Level: alert.LevelHigh}
	sc := dispatchContext(disaster.SeverityHigh)

	// Three failed tries open the sms skip window.
	if _, err := d.DispatchAlerts(context.Background(), pri, sc); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	calls := sms.calls.Load()

	out, err := d.DispatchAlerts(context.Background(), pri, sc)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if sms.calls.Load() != calls {
		t.Fatal("sms tool must not be invoked while its skip window is open")
	}
	if out.Attempts[0].Status != alert.AttemptSkipped {
		t.Fatalf("expected skipped attempt for sms, got %+v", out.Attempts[0])
	}
	if out.Status != alert.Partial {
		t.Fatalf("status = %s, want %s", out.Status, alert.Partial)
	}
}

func TestDispatchNoChannelsConfigured(t *testing.T) {
	d := newTestDispatcher(t, nil)

	pri := &alert.Priority{Level: alert.LevelLow}
	out, err := d.DispatchAlerts(context.Background(), pri, dispatchContext(disaster.SeverityLow))
	if err == nil {
		t.Fatal("expected error when no channels are bound")
	}
	if out.Status != alert.AllFailed {
		t.Fatalf("status = %s, want %s", out.Status, alert.AllFailed)
	}
}

func TestFormatPayloadIncludesSituation(t *testing.T) {
	sc := dispatchContext(disaster.SeverityCritical)
	sc.Routes = []situation.Route{{ID: "r1"}, {ID: "r2"}}
	sc.Geography = &situation.Geography{
		SafeLocations: []situation.SafeLocation{{Name: "Mirpur Shelter"}},
	}
	pri := &alert.Priority{Level: alert.LevelCritical, ResponseBudget: 5 * time.Minute}

	p := FormatPayload("a-1", pri, sc)
	if p.AlertID != "a-1" || p.DisasterID != "dx-1" {
		t.Fatalf("payload ids = %s/%s", p.AlertID, p.DisasterID)
	}
	if want := "CRITICAL ALERT: flood near Dhaka North"; p.Headline != want {
		t.Fatalf("headline = %q, want %q", p.Headline, want)
	}
	for _, fragment := range []string{"120000 people", "2 evacuation routes", "Mirpur Shelter", "5m0s"} {
		if !strings.Contains(p.Body, fragment) {
			t.Errorf("body missing %q:\n%s", fragment, p.Body)
		}
	}
}
