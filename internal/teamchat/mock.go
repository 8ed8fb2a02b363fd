package teamchat

import (
	"context"
	"strings"
	"sync"
	"time"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
)

// MockGateway serves a canned workspace. Sends are recorded in memory so
// a later read of the channel shows the new message.
type MockGateway struct {
	mu       sync.Mutex
	userName string
	channels []Channel
	messages map[string][]Message
}

func NewMockGateway(userName string) *MockGateway {
	if userName == "" {
		userName = "User"
	}
	g := &MockGateway{
		userName: userName,
		channels: []Channel{
			{ID: "C001", Name: "general", Unread: 3},
			{ID: "C002", Name: "random", Unread: 7},
			{ID: "C003", Name: "engineering", Unread: 12},
			{ID: "C004", Name: "announcements", Unread: 1},
			{ID: "C005", Name: "production", Unread: 8},
			{ID: "C006", Name: "design", Unread: 2},
			{ID: "C007", Name: "sales", Unread: 0},
			{ID: "C008", Name: "support-escalations", Unread: 3},
		},
	}
	g.messages = cannedMessages()
	return g
}

func (g *MockGateway) ListChannels(ctx context.Context) ([]Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Channel, len(g.channels))
	copy(out, g.channels)
	return out, nil
}

func (g *MockGateway) ReadChannel(ctx context.Context, channelName string) ([]Message, error) {
	id, ok := g.channelID(channelName)
	if !ok {
		return nil, aoiErrors.NotFound("channel #" + normalizeChannel(channelName) + " not found")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := g.messages[id]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (g *MockGateway) SendMessage(ctx context.Context, channelName, text string) error {
	id, ok := g.channelID(channelName)
	if !ok {
		return aoiErrors.NotFound("channel #" + normalizeChannel(channelName) + " not found")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[id] = append(g.messages[id], Message{
		User:      g.userName,
		Text:      text,
		Timestamp: time.Now(),
	})
	return nil
}

func (g *MockGateway) channelID(name string) (string, bool) {
	name = normalizeChannel(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.channels {
		if ch.Name == name {
			return ch.ID, true
		}
	}
	return "", false
}

// normalizeChannel strips the leading # users tend to include.
func normalizeChannel(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "#")
}

func cannedMessages() map[string][]Message {
	ts := func(s string) time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return t
	}
	return map[string][]Message{
		"C001": {
			{User: "Sarah Chen", Text: "Hey everyone! Quick reminder: all-hands meeting at 2pm PST today. We'll be covering Q1 roadmap and the new product launch.", Timestamp: ts("2026-01-18T09:15:00Z")},
			{User: "Marcus Johnson", Text: "Thanks Sarah! Will there be a recording for folks in APAC?", Timestamp: ts("2026-01-18T09:18:00Z")},
			{User: "Sarah Chen", Text: "Yes! Recording will be posted in #announcements within 24 hours", Timestamp: ts("2026-01-18T09:20:00Z")},
			{User: "Priya Sharma", Text: "Can someone share the Zoom link? I can't find the calendar invite", Timestamp: ts("2026-01-18T09:45:00Z")},
			{User: "David Kim", Text: "Just sent it to you in DM, Priya!", Timestamp: ts("2026-01-18T09:47:00Z")},
		},
		"C002": {
			{User: "Jake Morrison", Text: "Anyone else's coffee machine broken on the 3rd floor? Had to walk all the way to 5th for my morning fix", Timestamp: ts("2026-01-18T08:30:00Z")},
			{User: "Emma Wilson", Text: "Facilities said they're getting a new one next week. RIP old faithful", Timestamp: ts("2026-01-18T08:35:00Z")},
			{User: "Nina Patel", Text: "Speaking of lunch, anyone want to grab tacos? That new place on Market St has great reviews", Timestamp: ts("2026-01-18T11:30:00Z")},
			{User: "Emma Wilson", Text: "I'm in! 12:30?", Timestamp: ts("2026-01-18T11:32:00Z")},
		},
		"C003": {
			{User: "Alex Thompson", Text: "PR #1247 is ready for review - it's the auth service refactor we discussed. Would appreciate eyes on it before EOD", Timestamp: ts("2026-01-18T10:00:00Z")},
			{User: "Rachel Green", Text: "I'll take a look after standup. How big is the diff?", Timestamp: ts("2026-01-18T10:05:00Z")},
			{User: "Wei Zhang", Text: "Heads up: I'm seeing some flaky tests in the CI pipeline for the payments module. Investigating now", Timestamp: ts("2026-01-18T10:30:00Z")},
			{User: "Jordan Lee", Text: "Is it the Stripe webhook test? That one's been timing out intermittently", Timestamp: ts("2026-01-18T10:32:00Z")},
			{User: "DevOps Bot", Text: "Build #4521 passed. Deployed to staging environment successfully.", Timestamp: ts("2026-01-18T15:45:00Z")},
		},
		"C004": {
			{User: "CEO - Lisa Park", Text: "Excited to announce we've closed our Series B! $45M led by Sequoia. More details in the all-hands today. Thank you all for your incredible work!", Timestamp: ts("2026-01-18T08:00:00Z")},
			{User: "HR - Amanda Foster", Text: "Reminder: Performance reviews are due by end of month. Please complete your self-assessments in Lattice.", Timestamp: ts("2026-01-17T14:00:00Z")},
		},
		"C005": {
			{User: "GitHub Actions", Text: "Release v2.4.0 tagged and build started. Changelog: https://github.com/company/app/releases/tag/v2.4.0", Timestamp: ts("2026-01-18T06:00:00Z")},
			{User: "Release Manager - Derek Stone", Text: "Starting staged rollout for v2.4.0. Plan: 5% canary -> 25% -> 50% -> 100%. ETA for full rollout: ~4 hours", Timestamp: ts("2026-01-18T06:30:00Z")},
			{User: "PagerDuty", Text: "ALERT: Elevated 5xx errors detected on /api/v2/checkout endpoint. Error rate: 2.1% (threshold: 1%)", Timestamp: ts("2026-01-18T07:15:00Z")},
			{User: "On-Call - Sarah Mitchell", Text: "Found the issue - v2.4.0 has a regression in the new payment validation logic. Initiating rollback to v2.3.2.", Timestamp: ts("2026-01-18T07:25:00Z")},
			{User: "ArgoCD", Text: "Rollback completed: app-production now running v2.3.2. All 32 replicas healthy.", Timestamp: ts("2026-01-18T07:30:00Z")},
			{User: "Release Manager - Derek Stone", Text: "Reviewed and approved #1901. Merging now. Will cut v2.4.1 hotfix release.", Timestamp: ts("2026-01-18T09:45:00Z")},
			{User: "ArgoCD", Text: "Deployment completed: app-production now running v2.4.1. 32/32 replicas ready. Rollout took 12m 34s.", Timestamp: ts("2026-01-18T11:15:00Z")},
		},
		"C006": {
			{User: "Olivia Martinez", Text: "Just uploaded the new onboarding flow mockups to Figma. Would love feedback before I start on the prototype: https://figma.com/file/abc123", Timestamp: ts("2026-01-18T09:00:00Z")},
			{User: "Tom Bradley", Text: "These look great! One thought - can we simplify step 3? Feels like a lot of form fields for a first-time user", Timestamp: ts("2026-01-18T10:15:00Z")},
			{User: "Product - Kevin Nguyen", Text: "Love the direction! The current onboarding has a 40% drop-off at step 3", Timestamp: ts("2026-01-18T11:00:00Z")},
		},
		"C007": {
			{User: "Jennifer Adams", Text: "Just closed Acme Corp - $250K ARR! They're starting with 500 seats and planning to expand to 2000 by Q3", Timestamp: ts("2026-01-17T16:30:00Z")},
			{User: "Sales Manager - Robert Taylor", Text: "Amazing work Jennifer! That's our biggest deal this quarter. Team drinks on me Friday!", Timestamp: ts("2026-01-17T16:35:00Z")},
		},
		"C008": {
			{User: "Support - Maria Garcia", Text: "ESCALATION: Enterprise customer (TechFlow Inc) reporting data sync issues. They're unable to export reports for the past 2 hours. Ticket #45892", Timestamp: ts("2026-01-18T13:00:00Z")},
			{User: "Engineering - Wei Zhang", Text: "Found it - there was a stuck job in the export queue. Cleared it and their exports are processing now. Should be fully resolved in ~10 mins", Timestamp: ts("2026-01-18T13:25:00Z")},
			{User: "Support - Maria Garcia", Text: "Confirmed working on their end. Thanks for the quick turnaround Wei!", Timestamp: ts("2026-01-18T13:40:00Z")},
		},
	}
}
