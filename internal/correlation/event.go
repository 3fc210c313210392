package correlation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"alertflow/internal/model"

	"github.com/google/uuid"
)

// createEvent builds a new event from the matched set and links every member
// alert that does not already belong to an event.
func (e *Engine) createEvent(ctx context.Context, rule *model.CorrelationRule, key string, matched []*model.Alert, now time.Time) error {
	members := unlinked(matched)
	if len(members) == 0 {
		return nil
	}

	event := &model.Event{
		ID:             uuid.New(),
		CorrelationKey: key,
		RuleID:         rule.ID,
		Status:         model.EventStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	event.Name, event.Description = synthesize(rule, members)
	event.EventType = string(rule.Scope)

	event.StartTime = members[0].Timestamp
	event.EndTime = members[0].Timestamp

	attackers := make(map[string]bool)
	victims := make(map[string]bool)
	domains := make(map[string]bool)
	var riskSum, confSum float64

	for _, a := range members {
		if a.Timestamp.Before(event.StartTime) {
			event.StartTime = a.Timestamp
		}
		if a.Timestamp.After(event.EndTime) {
			event.EndTime = a.Timestamp
		}
		if a.SourceIP != "" {
			attackers[a.SourceIP] = true
		}
		if a.DestIP != "" {
			victims[a.DestIP] = true
		}
		for _, d := range e.domains(a) {
			domains[d] = true
		}
		event.Severity = model.MaxSeverity(event.Severity, a.Severity)
		if a.Priority > event.Priority {
			event.Priority = a.Priority
		}
		riskSum += a.RiskScore()
		confSum += a.RiskScore()

		event.AlertIDs = append(event.AlertIDs, a.ID)
	}

	event.AlertCount = len(members)
	event.AttackerIPs = sortedKeys(attackers)
	event.VictimIPs = sortedKeys(victims)
	event.Domains = sortedKeys(domains)

	mean := riskSum / float64(len(members))
	event.RiskScore = mean * 1.5
	event.Confidence = confSum / float64(len(members))
	if event.Confidence > 1.0 {
		event.Confidence = 1.0
	}

	if err := e.events.Save(ctx, event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	if err := e.linkMembers(ctx, event, members); err != nil {
		return err
	}

	e.logger.Info("event created",
		"event_id", event.ID,
		"rule_id", rule.ID,
		"correlation_key", key,
		"alert_count", event.AlertCount,
	)
	if e.OnEventCreated != nil {
		e.OnEventCreated(event)
	}
	return nil
}

// updateEvent attaches the matched alerts that are not yet linked to any
// event. Already-linked alerts are skipped, which is what makes repeated
// correlation runs idempotent. The count grows per newly attached alert and
// the end time extends when a newcomer is later.
func (e *Engine) updateEvent(ctx context.Context, event *model.Event, matched []*model.Alert, now time.Time) error {
	// The matched snapshots were read before the key lock was taken, so an
	// alert another holder just linked can still look unlinked here.
	// Membership is checked against the event itself: an alert attaches once.
	attached := make(map[uuid.UUID]bool, len(event.AlertIDs))
	for _, id := range event.AlertIDs {
		attached[id] = true
	}

	newcomers := make([]*model.Alert, 0, len(matched))
	for _, a := range unlinked(matched) {
		if attached[a.ID] {
			continue
		}
		newcomers = append(newcomers, a)
	}
	if len(newcomers) == 0 {
		return nil
	}

	for _, a := range newcomers {
		event.AlertIDs = append(event.AlertIDs, a.ID)
		event.AlertCount++
		if a.Timestamp.After(event.EndTime) {
			event.EndTime = a.Timestamp
		}
	}
	event.UpdatedAt = now

	if err := e.events.Save(ctx, event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	if err := e.linkMembers(ctx, event, newcomers); err != nil {
		return err
	}

	e.logger.Info("event updated",
		"event_id", event.ID,
		"correlation_key", event.CorrelationKey,
		"attached", len(newcomers),
		"alert_count", event.AlertCount,
	)
	if e.OnEventUpdated != nil {
		e.OnEventUpdated(event)
	}
	return nil
}

// linkMembers stamps each alert with the event linkage and persists it.
func (e *Engine) linkMembers(ctx context.Context, event *model.Event, members []*model.Alert) error {
	var firstErr error
	for _, a := range members {
		id := event.ID
		a.EventID = &id
		a.CorrelationKey = event.CorrelationKey
		a.Status = model.AlertStatusCorrelated
		if err := e.alerts.Save(ctx, a); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("link alert %s: %w", a.ID, err)
		}
	}
	return firstErr
}

// unlinked filters the matched set down to alerts that belong to no event
// yet. An alert belongs to at most one event.
func unlinked(matched []*model.Alert) []*model.Alert {
	out := make([]*model.Alert, 0, len(matched))
	for _, a := range matched {
		if !a.Linked() {
			out = append(out, a)
		}
	}
	return out
}

// synthesize builds the event name and description from the type/subtype
// histogram of the member set and the rule name.
func synthesize(rule *model.CorrelationRule, members []*model.Alert) (string, string) {
	histogram := make(map[string]int)
	for _, a := range members {
		group := fmt.Sprintf("type %d", a.AlertType)
		if a.Subtype != "" {
			group += "/" + a.Subtype
		}
		histogram[group]++
	}

	groups := make([]string, 0, len(histogram))
	for g := range histogram {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if histogram[groups[i]] != histogram[groups[j]] {
			return histogram[groups[i]] > histogram[groups[j]]
		}
		return groups[i] < groups[j]
	})

	name := fmt.Sprintf("%s: %d alerts (%s)", rule.Name, len(members), groups[0])

	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%d of %s", histogram[g], g))
	}
	description := fmt.Sprintf("Correlated by rule %q across %s.", rule.Name, strings.Join(parts, ", "))
	return name, description
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
