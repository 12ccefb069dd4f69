package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/bot"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/pipeline"
	"gorm.io/gorm"
)

// mockDeliverer satisfies the pipeline's outbound boundary.
type mockDeliverer struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockDeliverer) SendText(ctx context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return fmt.Sprintf("wamid.out.%d", len(m.sent)), nil
}

func (m *mockDeliverer) SendTemplate(ctx context.Context, phone, templateName string, params []string) (string, error) {
	return m.SendText(ctx, phone, templateName)
}

func newTestPipeline(t *testing.T, db *gorm.DB) (*pipeline.Pipeline, *mockDeliverer) {
	t.Helper()
	classifier, err := bot.NewClassifier(bot.ClassifierOpts{DB: db})
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	deliverer := &mockDeliverer{}
	p, err := pipeline.New(pipeline.Opts{
		DB:                 db,
		Classifier:         classifier,
		Deliverer:          deliverer,
		DefaultCountryCode: "55",
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, deliverer
}

var phoneSeq int

func seedConversation(t *testing.T, db *gorm.DB, status, priority string, age time.Duration) *models.Conversation {
	t.Helper()
	phoneSeq++
	contact := models.Contact{Phone: fmt.Sprintf("55119%08d", phoneSeq)}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	conv := models.Conversation{
		ContactID: contact.ID,
		Channel:   "whatsapp",
		Status:    status,
		Priority:  priority,
	}
	if err := db.Create(&conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if age > 0 {
		db.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Update("created_at", time.Now().Add(-age))
	}
	return &conv
}

func eventFor(t *testing.T, conv *models.Conversation, extra map[string]interface{}) *models.OutboxEvent {
	t.Helper()
	payload := map[string]interface{}{
		"conversation_id": conv.ID,
		"contact_id":      conv.ContactID,
		"channel":         conv.Channel,
		"status":          conv.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &models.OutboxEvent{Type: "test", ConversationID: conv.ID, Payload: string(data)}
}

func TestWelcomeHandlerSendsIntoConversation(t *testing.T) {
	db := openTestDB(t)
	p, deliverer := newTestPipeline(t, db)

	conv := seedConversation(t, db, models.ConversationOpen, models.PriorityMedium, 0)
	handler := WelcomeHandler(p, "Welcome to support!")

	if err := handler(context.Background(), eventFor(t, conv, nil)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(deliverer.sent) != 1 || deliverer.sent[0] != "Welcome to support!" {
		t.Errorf("sent = %v", deliverer.sent)
	}

	var msg models.Message
	if err := db.First(&msg, "conversation_id = ? AND direction = ?", conv.ID, models.DirectionOutbound).Error; err != nil {
		t.Fatalf("outbound message missing: %v", err)
	}
	if msg.SendStatus != models.SendSent {
		t.Errorf("send status = %s", msg.SendStatus)
	}
}

func TestWelcomeHandlerEmptyTextIsNoop(t *testing.T) {
	db := openTestDB(t)
	p, deliverer := newTestPipeline(t, db)

	conv := seedConversation(t, db, models.ConversationOpen, models.PriorityMedium, 0)
	handler := WelcomeHandler(p, "")

	if err := handler(context.Background(), eventFor(t, conv, nil)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("sent = %v", deliverer.sent)
	}
}

func TestAssignmentHandlerResolvesAgentName(t *testing.T) {
	db := openTestDB(t)
	mock := notify.NewMock()

	agent := models.Agent{ID: "alice", Name: "Alice Santos", Active: true}
	if err := db.Create(&agent).Error; err != nil {
		t.Fatalf("create agent: %v", err)
	}
	conv := seedConversation(t, db, models.ConversationAssigned, models.PriorityMedium, 0)

	handler := AssignmentHandler(db, mock)
	if err := handler(context.Background(), eventFor(t, conv, map[string]interface{}{"agent_id": "alice"})); err != nil {
		t.Fatalf("handler: %v", err)
	}

	posted := mock.Posted()
	if len(posted) != 1 {
		t.Fatalf("posted = %d", len(posted))
	}
	if !strings.Contains(posted[0].Body, "Alice Santos") {
		t.Errorf("body = %q", posted[0].Body)
	}
}

func TestClosedHandlerPosts(t *testing.T) {
	db := openTestDB(t)
	mock := notify.NewMock()

	conv := seedConversation(t, db, models.ConversationClosed, models.PriorityMedium, 0)
	handler := ClosedHandler(mock)
	if err := handler(context.Background(), eventFor(t, conv, map[string]interface{}{"closed_by": "alice"})); err != nil {
		t.Fatalf("handler: %v", err)
	}

	posted := mock.Posted()
	if len(posted) != 1 || !strings.Contains(posted[0].Body, "alice") {
		t.Errorf("posted = %+v", posted)
	}
}

func TestQueueUpdateHandlerReportsPosition(t *testing.T) {
	db := openTestDB(t)
	mock := notify.NewMock()

	// Two conversations ahead: one urgent, one older high.
	seedConversation(t, db, models.ConversationOpen, models.PriorityUrgent, time.Hour)
	seedConversation(t, db, models.ConversationOpen, models.PriorityHigh, 2*time.Hour)
	subject := seedConversation(t, db, models.ConversationOpen, models.PriorityMedium, 30*time.Minute)

	handler := QueueUpdateHandler(db, mock)
	if err := handler(context.Background(), eventFor(t, subject, map[string]interface{}{"assigned": false})); err != nil {
		t.Fatalf("handler: %v", err)
	}

	posted := mock.Posted()
	if len(posted) != 1 {
		t.Fatalf("posted = %d", len(posted))
	}
	var position string
	for _, f := range posted[0].Fields {
		if f.Name == "Queue position" {
			position = f.Value
		}
	}
	if position != "3" {
		t.Errorf("queue position = %q, want 3", position)
	}
}

func TestQueueUpdateHandlerSkipsAssignedConversations(t *testing.T) {
	db := openTestDB(t)
	mock := notify.NewMock()

	conv := seedConversation(t, db, models.ConversationAssigned, models.PriorityMedium, 0)
	handler := QueueUpdateHandler(db, mock)
	if err := handler(context.Background(), eventFor(t, conv, map[string]interface{}{"assigned": true})); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(mock.Posted()) != 0 {
		t.Errorf("posted = %d, want 0", len(mock.Posted()))
	}
}

func TestQueueUpdateHandlerSilentWhenConversationLeftQueue(t *testing.T) {
	db := openTestDB(t)
	mock := notify.NewMock()

	conv := seedConversation(t, db, models.ConversationOpen, models.PriorityMedium, 0)
	// Assigned between event emission and fan-out.
	agentID := "alice"
	db.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
		"status":   models.ConversationAssigned,
		"agent_id": agentID,
	})

	handler := QueueUpdateHandler(db, mock)
	if err := handler(context.Background(), eventFor(t, conv, map[string]interface{}{"assigned": false})); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(mock.Posted()) != 0 {
		t.Errorf("posted = %d, want 0", len(mock.Posted()))
	}
}
