/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package api

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foxcpp/gale/internal/breaker"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/inbound"
	"github.com/foxcpp/gale/internal/outbound"
	"github.com/foxcpp/gale/internal/provider"
	"github.com/foxcpp/gale/internal/testutils"
)

// startWorkers runs the dispatch and inbound workers against the gateway the
// same way the run subcommand assembles them. Stopped on test cleanup.
func startWorkers(t *testing.T, g *testGateway) {
	t.Helper()

	providers := provider.NewRegistry()
	providers.Insert(conversation.ChannelSMS, g.mockSMS)
	providers.Insert(conversation.ChannelMMS, g.mockSMS)
	providers.Insert(conversation.ChannelEmail, g.mockEmail)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		(&outbound.Worker{
			Log:      testutils.Logger(t, "outbound"),
			Queue:    g.queue,
			Registry: providers,
			Breakers: map[string]*breaker.Breaker{},
			Fallback: breaker.New(100, time.Minute),
			Store:    g.store,
			Metrics:  g.metrics,
		}).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		(&inbound.Worker{
			Log:          testutils.Logger(t, "inbound"),
			Store:        g.store,
			Metrics:      g.metrics,
			BatchSize:    10,
			MaxRetries:   2,
			BackoffBase:  time.Millisecond,
			ClaimTimeout: time.Minute,
		}).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

// waitFor polls cond until it holds. Worker progress is asynchronous, so
// assertions on persisted state go through here.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (g *testGateway) messageCount(t *testing.T) int64 {
	t.Helper()
	convs, err := g.store.Conversations(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	var n int64
	for _, c := range convs {
		n += c.MessageCount
	}
	return n
}

func TestEmailRoundTripCollapses(t *testing.T) {
	g := testEndpoint(t, testConfig())
	startWorkers(t, g)

	w := g.do(t, "POST", "/api/messages/email",
		`{"from":"alice@example.com","to":"bob@example.com","body":"Hello Bob!","timestamp":"2024-03-01T10:00:00Z"}`, nil)
	if w.Code != 202 {
		t.Fatalf("outbound post: status %d: %s", w.Code, w.Body.String())
	}
	waitFor(t, "outbound message persisted", func() bool { return g.messageCount(t) == 1 })

	w = g.do(t, "POST", "/api/webhooks/email",
		`{"from":"bob@example.com","to":"alice@example.com","xillio_id":"x1","body":"Hi Alice!","timestamp":"2024-03-01T11:00:00Z"}`, nil)
	if w.Code != 202 {
		t.Fatalf("webhook post: status %d: %s", w.Code, w.Body.String())
	}
	waitFor(t, "inbound message persisted", func() bool { return g.messageCount(t) == 2 })

	var page conversationPage
	decodeBody(t, g.do(t, "GET", "/api/conversations", "", nil), &page)
	if len(page.Items) != 1 {
		t.Fatalf("conversations = %d, want 1", len(page.Items))
	}
	conv := page.Items[0]
	if conv.Channel != "email" {
		t.Errorf("channel = %q, want email", conv.Channel)
	}
	if conv.ParticipantA != "alice@example.com" || conv.ParticipantB != "bob@example.com" {
		t.Errorf("participants = %q, %q", conv.ParticipantA, conv.ParticipantB)
	}
	if conv.Key != "email:alice@example.com<->bob@example.com" {
		t.Errorf("key = %q", conv.Key)
	}
	if conv.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", conv.MessageCount)
	}
	if conv.LastActivityAt != "2024-03-01T11:00:00Z" {
		t.Errorf("last_activity_at = %q, want webhook timestamp", conv.LastActivityAt)
	}
}

func TestPlusTagCollapses(t *testing.T) {
	g := testEndpoint(t, testConfig())
	startWorkers(t, g)

	for _, to := range []string{"user+newsletter@example.com", "user@example.com"} {
		body := fmt.Sprintf(`{"from":"alice@example.com","to":"%s","body":"hi","timestamp":"2024-03-01T10:00:00Z"}`, to)
		if w := g.do(t, "POST", "/api/messages/email", body, nil); w.Code != 202 {
			t.Fatalf("post to %s: status %d", to, w.Code)
		}
	}
	waitFor(t, "both messages persisted", func() bool { return g.messageCount(t) == 2 })

	var page conversationPage
	decodeBody(t, g.do(t, "GET", "/api/conversations", "", nil), &page)
	if len(page.Items) != 1 {
		t.Fatalf("conversations = %d, want 1 (plus tag must not split)", len(page.Items))
	}
	if page.Items[0].ParticipantB != "user@example.com" {
		t.Errorf("participant_b = %q, want user@example.com", page.Items[0].ParticipantB)
	}
	if page.Items[0].MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", page.Items[0].MessageCount)
	}
}

func TestPhoneFormattingCollapses(t *testing.T) {
	g := testEndpoint(t, testConfig())
	startWorkers(t, g)

	for _, to := range []string{"+1 (555) 000-1234", "+15550001234"} {
		body := fmt.Sprintf(`{"from":"+15550009999","to":"%s","type":"sms","body":"hi","timestamp":"2024-03-01T10:00:00Z"}`, to)
		if w := g.do(t, "POST", "/api/messages/sms", body, nil); w.Code != 202 {
			t.Fatalf("post to %q: status %d", to, w.Code)
		}
	}
	waitFor(t, "both messages persisted", func() bool { return g.messageCount(t) == 2 })

	var page conversationPage
	decodeBody(t, g.do(t, "GET", "/api/conversations", "", nil), &page)
	if len(page.Items) != 1 {
		t.Fatalf("conversations = %d, want 1 (formatting must not split)", len(page.Items))
	}
	if page.Items[0].ParticipantA != "+15550001234" {
		t.Errorf("participant_a = %q, want +15550001234", page.Items[0].ParticipantA)
	}
	if page.Items[0].MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", page.Items[0].MessageCount)
	}
}

func TestConcurrentSendsOneConversation(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerIPPerMin = 1000
	cfg.RateLimitPerSenderPerMin = 1000
	g := testEndpointQueue(t, cfg, 128)
	startWorkers(t, g)

	const sends = 100
	var wg sync.WaitGroup
	codes := make(chan int, sends)
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"from":"alice@example.com","to":"bob@example.com","body":"msg %d","timestamp":"2024-03-01T10:00:00Z"}`, i)
			codes <- g.do(t, "POST", "/api/messages/email", body, nil).Code
		}(i)
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		if code != 202 {
			t.Fatalf("concurrent post: status %d", code)
		}
	}

	waitFor(t, "all messages persisted", func() bool { return g.messageCount(t) == sends })

	convs, err := g.store.Conversations(context.Background(), 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	if convs[0].MessageCount != sends {
		t.Errorf("message_count = %d, want %d", convs[0].MessageCount, sends)
	}
	msgs, err := g.store.Messages(context.Background(), convs[0].ID, sends+10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != sends {
		t.Errorf("messages = %d, want %d", len(msgs), sends)
	}
}
