package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rsotel "github.com/openrelief/responder/internal/adapter/otel"
	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
	"github.com/openrelief/responder/internal/port/dispatch"
	"github.com/openrelief/responder/internal/resilience"
)

// Channel is one configured delivery channel: a name from the preference
// lists bound to a concrete tool implementation.
type Channel struct {
	Name string
	Tool dispatch.Tool
}

// Dispatcher selects delivery channels for a priority level and executes
// them with per-tool retry, fallback to the next channel, and a
// per-channel skip window after repeated failures.
type Dispatcher struct {
	cfg      config.Dispatch
	channels map[string]Channel // by channel name
	prefs    map[alert.Level][]string

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker

	breakerCfg config.Breaker
	backoff    resilience.Backoff
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher over the given channels. The
// level-to-channel preference map comes from configuration, never from
// call sites.
func NewDispatcher(channels []Channel, cfg config.Dispatch, breakerCfg config.Breaker) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byName[c.Name] = c
	}

	prefs := make(map[alert.Level][]string, len(cfg.Channels))
	for level, names := range cfg.Channels {
		prefs[alert.Level(level)] = names
	}

	return &Dispatcher{
		cfg:        cfg,
		channels:   byName,
		prefs:      prefs,
		breakers:   make(map[string]*resilience.Breaker),
		breakerCfg: breakerCfg,
		backoff: resilience.Backoff{
			Base:     cfg.RetryBase,
			Factor:   2,
			Max:      cfg.RetryMaxDelay,
			Jitter:   0.25,
			Attempts: cfg.MaxAttempts,
		},
		now:   time.Now,
		sleep: resilience.Sleep,
	}
}

// SelectTools returns the ordered channel preference list for a level.
// Channels without a bound tool are filtered out here; they surface later
// as SKIPPED attempts only when the whole list is empty.
func (d *Dispatcher) SelectTools(level alert.Level) []Channel {
	names := d.prefs[level]
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		if c, ok := d.channels[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// DispatchAlerts sends the alert through every channel selected for the
// priority level. Each channel gets the configured retry budget with
// capped exponential backoff; an exhausted channel falls through to the
// next one instead of aborting the dispatch. The outcome is ALL_FAILED
// only when every channel exhausted its budget, and that terminal case is
// returned as an error so the agent can escalate it.
func (d *Dispatcher) DispatchAlerts(ctx context.Context, pri *alert.Priority, sc *situation.Context) (*alert.Outcome, error) {
	outcome := &alert.Outcome{
		AlertID:   uuid.NewString(),
		StartedAt: d.now(),
	}

	selected := d.SelectTools(pri.Level)
	if len(selected) == 0 {
		outcome.Status = alert.AllFailed
		outcome.FinishedAt = d.now()
		return outcome, domain.ToolUnavailableErr("dispatch",
			fmt.Errorf("no channels configured for level %s", pri.Level))
	}

	payload := FormatPayload(outcome.AlertID, pri, sc)

	succeeded := 0
	for _, ch := range selected {
		if d.dispatchChannel(ctx, ch, payload, outcome) {
			succeeded++
		}
	}

	switch {
	case succeeded == len(selected):
		outcome.Status = alert.AllDelivered
	case succeeded > 0:
		outcome.Status = alert.Partial
	default:
		outcome.Status = alert.AllFailed
	}
	outcome.FinishedAt = d.now()

	slog.Info("dispatch finished",
		"disaster_id", sc.Event.ID,
		"alert_id", outcome.AlertID,
		"status", string(outcome.Status),
		"attempts", len(outcome.Attempts),
	)

	if outcome.Status == alert.AllFailed {
		return outcome, domain.ToolUnavailableErr("dispatch",
			fmt.Errorf("all %d channels exhausted their retry budget", len(selected)))
	}
	return outcome, nil
}

// dispatchChannel runs one channel's retry loop and appends its attempts to
// the outcome log. Reports whether the channel delivered.
func (d *Dispatcher) dispatchChannel(ctx context.Context, ch Channel, p dispatch.Payload, outcome *alert.Outcome) bool {
	ctx, span := rsotel.StartDeliverySpan(ctx, p.AlertID, ch.Name)
	defer span.End()

	br := d.breakerFor(ch.Name)

	if !br.Allow() {
		outcome.Attempts = append(outcome.Attempts, alert.Attempt{
			Tool:    ch.Tool.Name(),
			Channel: ch.Name,
			Status:  alert.AttemptSkipped,
			Try:     0,
			At:      d.now(),
			Error:   "channel in cooldown after repeated failures",
		})
		return false
	}

	for try := 1; try <= d.cfg.MaxAttempts; try++ {
		if try > 1 {
			if err := d.sleep(ctx, d.backoff.Delay(try-1)); err != nil {
				// Cancellation stops further retries for this workflow.
				outcome.Attempts = append(outcome.Attempts, alert.Attempt{
					Tool: ch.Tool.Name(), Channel: ch.Name,
					Status: alert.AttemptSkipped, Try: try, At: d.now(),
					Error: "cancelled: " + err.Error(),
				})
				return false
			}
		}

		sctx, cancel := context.WithTimeout(ctx, d.cfg.ToolTimeout)
		delivery, err := ch.Tool.Send(sctx, p)
		cancel()

		if err == nil {
			br.Success()
			outcome.Attempts = append(outcome.Attempts, alert.Attempt{
				Tool: ch.Tool.Name(), Channel: ch.Name,
				Status: alert.AttemptSuccess, Try: try, At: d.now(),
				ProviderRef: delivery.ProviderRef,
			})
			return true
		}

		br.Failure()
		status := alert.AttemptRetried
		if try == d.cfg.MaxAttempts || !retryableSend(err) {
			status = alert.AttemptFailed
		}
		outcome.Attempts = append(outcome.Attempts, alert.Attempt{
			Tool: ch.Tool.Name(), Channel: ch.Name,
			Status: status, Try: try, At: d.now(),
			Error: err.Error(),
		})
		slog.Warn("channel send failed",
			"channel", ch.Name, "tool", ch.Tool.Name(), "try", try, "error", err)

		if status == alert.AttemptFailed {
			return false
		}
	}
	return false
}

// retryableSend classifies a tool error. Misconfiguration and explicit
// channel-down errors skip straight to fallback; everything else (timeouts,
// transport faults) consumes the retry budget first.
func retryableSend(err error) bool {
	if errors.Is(err, dispatch.ErrNotConfigured) {
		return false
	}
	if domain.Retryable(err) {
		return true
	}
	// Unclassified transport faults consume the retry budget too; only an
	// explicit channel-down signal skips straight to fallback.
	return domain.KindOf(err) != domain.KindToolUnavailable
}

func (d *Dispatcher) breakerFor(channel string) *resilience.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	br, ok := d.breakers[channel]
	if !ok {
		br = resilience.NewBreaker(d.breakerCfg.MaxFailures, d.breakerCfg.Cooldown)
		d.breakers[channel] = br
	}
	return br
}

// FormatPayload renders the alert message for delivery tools from the
// priority and situational context.
func FormatPayload(alertID string, pri *alert.Priority, sc *situation.Context) dispatch.Payload {
	ev := sc.Event

	headline := fmt.Sprintf("%s ALERT: %s near %s",
		strings.ToUpper(string(pri.Level)), ev.Kind, locationLabel(ev.Location))

	var b strings.Builder
	fmt.Fprintf(&b, "A %s severity %s has been reported at %.4f, %.4f.\n",
		ev.Severity, ev.Kind, ev.Location.Latitude, ev.Location.Longitude)
	if pop := sc.Population; pop != nil && pop.Total > 0 {
		fmt.Fprintf(&b, "Estimated %d people affected.\n", pop.Total)
	}
	if len(sc.Routes) > 0 {
		fmt.Fprintf(&b, "%d evacuation routes available.\n", len(sc.Routes))
	}
	if g := sc.Geography; g != nil && len(g.SafeLocations) > 0 {
		fmt.Fprintf(&b, "Nearest safe locations: ")
		for i, loc := range g.SafeLocations {
			if i >= 3 {
				break
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(loc.Name)
		}
		b.WriteString(".\n")
	}
	fmt.Fprintf(&b, "Respond within %s.", pri.ResponseBudget)

	return dispatch.Payload{
		AlertID:    alertID,
		DisasterID: ev.ID,
		Level:      pri.Level,
		Headline:   headline,
		Body:       b.String(),
		Metadata: map[string]string{
			"kind":     string(ev.Kind),
			"severity": string(ev.Severity),
		},
	}
}

func locationLabel(loc disaster.Location) string {
	if loc.Address != "" {
		return loc.Address
	}
	if loc.AdminArea != "" {
		return loc.AdminArea
	}
	return fmt.Sprintf("%.4f, %.4f", loc.Latitude, loc.Longitude)
}
