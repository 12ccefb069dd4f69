package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/bot"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.BotSession{},
		&models.Agent{},
		&models.AuditLog{},
		&models.OutboxEvent{},
		&models.IngestTask{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// mockDeliverer records outbound sends and can be told to fail.
type mockDeliverer struct {
	mu       sync.Mutex
	sent     []string
	FailWith error
}

func (m *mockDeliverer) SendText(ctx context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return "", m.FailWith
	}
	id := "wamid.test." + time.Now().Format("150405.000000000")
	m.sent = append(m.sent, text)
	return id, nil
}

func (m *mockDeliverer) SendTemplate(ctx context.Context, phone, templateName string, params []string) (string, error) {
	return m.SendText(ctx, phone, templateName)
}

func (m *mockDeliverer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockBotSender records automated replies.
type mockBotSender struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockBotSender) SendText(ctx context.Context, phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func setupPipeline(t *testing.T, db *gorm.DB) (*Pipeline, *mockDeliverer, *mockBotSender) {
	t.Helper()

	classifier, err := bot.NewClassifier(bot.ClassifierOpts{DB: db})
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	botSender := &mockBotSender{}
	menu, err := bot.NewMenuResponder(bot.MenuResponderOpts{
		Channel:  "whatsapp",
		Sender:   botSender,
		Triggers: []string{"menu"},
		Options:  map[string]string{"1": "Weekdays 9-18."},
	})
	if err != nil {
		t.Fatalf("new menu responder: %v", err)
	}
	classifier.Register("whatsapp", menu)

	deliverer := &mockDeliverer{}
	p, err := New(Opts{
		DB:                 db,
		Classifier:         classifier,
		Deliverer:          deliverer,
		DefaultCountryCode: "55",
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, deliverer, botSender
}

func inboundText(provider, text string) Inbound {
	return Inbound{
		Channel:           "whatsapp",
		From:              "11987654321",
		Name:              "Maria",
		ProviderMessageID: provider,
		Type:              "text",
		Content:           text,
		Timestamp:         time.Now(),
	}
}

func TestIngestCreatesEverything(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	msg, err := p.Ingest(context.Background(), inboundText("wamid.1", "I need a refund"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if msg == nil {
		t.Fatal("message is nil")
	}
	if msg.Direction != models.DirectionInbound || msg.Type != models.MessageText {
		t.Errorf("message = %+v", msg)
	}

	var contact models.Contact
	if err := db.First(&contact, "phone = ?", "5511987654321").Error; err != nil {
		t.Fatalf("contact missing: %v", err)
	}
	if contact.Name != "Maria" {
		t.Errorf("contact name = %q", contact.Name)
	}

	var conv models.Conversation
	if err := db.First(&conv, msg.ConversationID).Error; err != nil {
		t.Fatalf("conversation missing: %v", err)
	}
	if conv.Status != models.ConversationOpen {
		t.Errorf("conversation status = %s", conv.Status)
	}

	var created, received int64
	db.Model(&models.OutboxEvent{}).Where("type = ?", models.EventConversationCreated).Count(&created)
	db.Model(&models.OutboxEvent{}).Where("type = ?", models.EventMessageReceived).Count(&received)
	if created != 1 || received != 1 {
		t.Errorf("events: created=%d received=%d", created, received)
	}
}

// openSharedTestDB opens a file-backed database so concurrent goroutines hit
// real cross-connection writer contention instead of sqlite's single shared
// in-memory handle.
func openSharedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.BotSession{},
		&models.Agent{},
		&models.AuditLog{},
		&models.OutboxEvent{},
		&models.IngestTask{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestIngestConcurrentDuplicateDeliveries(t *testing.T) {
	db := openSharedTestDB(t)
	p, _, _ := setupPipeline(t, db)

	// The provider redelivers the same webhook to several workers at once.
	const workers = 6
	msgs := make([]*models.Message, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			msgs[slot], errs[slot] = p.Ingest(context.Background(), inboundText("wamid.race", "hello"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	for i := 1; i < workers; i++ {
		if msgs[i].ID != msgs[0].ID {
			t.Fatalf("workers stored different messages: %d vs %d", msgs[i].ID, msgs[0].ID)
		}
	}

	var messages, conversations, contactRows int64
	db.Model(&models.Message{}).Count(&messages)
	db.Model(&models.Conversation{}).Count(&conversations)
	db.Model(&models.Contact{}).Count(&contactRows)
	if messages != 1 {
		t.Errorf("messages = %d, want 1", messages)
	}
	if conversations != 1 {
		t.Errorf("conversations = %d, want 1", conversations)
	}
	if contactRows != 1 {
		t.Errorf("contacts = %d, want 1", contactRows)
	}

	var events int64
	db.Model(&models.OutboxEvent{}).Where("type = ?", models.EventMessageReceived).Count(&events)
	if events != 1 {
		t.Errorf("received events = %d, want 1", events)
	}
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	first, err := p.Ingest(context.Background(), inboundText("wamid.dup", "hello"))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := p.Ingest(context.Background(), inboundText("wamid.dup", "hello"))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("replay created a new message: %d vs %d", first.ID, second.ID)
	}

	var messages, events int64
	db.Model(&models.Message{}).Count(&messages)
	db.Model(&models.OutboxEvent{}).Where("type = ?", models.EventMessageReceived).Count(&events)
	if messages != 1 {
		t.Errorf("messages = %d, want 1", messages)
	}
	if events != 1 {
		t.Errorf("received events = %d, want 1", events)
	}
}

func TestIngestSecondMessageReusesConversation(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	first, err := p.Ingest(context.Background(), inboundText("wamid.a", "first"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, err := p.Ingest(context.Background(), inboundText("wamid.b", "second"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if first.ConversationID != second.ConversationID {
		t.Errorf("conversations differ: %d vs %d", first.ConversationID, second.ConversationID)
	}

	var count int64
	db.Model(&models.Conversation{}).Count(&count)
	if count != 1 {
		t.Errorf("conversations = %d, want 1", count)
	}
}

func TestIngestBlockedContactRejected(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	contact := models.Contact{Phone: "5511987654321", Blocked: true, BlockReason: "spam"}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}

	msg, err := p.Ingest(context.Background(), inboundText("wamid.blocked", "hello"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if msg != nil {
		t.Errorf("message = %+v, want nil", msg)
	}

	var messages, conversations int64
	db.Model(&models.Message{}).Count(&messages)
	db.Model(&models.Conversation{}).Count(&conversations)
	if messages != 0 || conversations != 0 {
		t.Errorf("rows created for blocked contact: messages=%d conversations=%d", messages, conversations)
	}

	var audit int64
	db.Model(&models.AuditLog{}).Where("action = ?", "ingest_rejected").Count(&audit)
	if audit != 1 {
		t.Errorf("rejection audits = %d", audit)
	}
}

func TestIngestBotFlowProducesNoMessageRow(t *testing.T) {
	db := openTestDB(t)
	p, _, botSender := setupPipeline(t, db)

	msg, err := p.Ingest(context.Background(), inboundText("wamid.menu", "menu"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if msg != nil {
		t.Errorf("bot-handled message = %+v, want nil", msg)
	}

	if len(botSender.sent) != 1 {
		t.Errorf("bot replies = %d, want 1", len(botSender.sent))
	}

	var conversations int64
	db.Model(&models.Conversation{}).Count(&conversations)
	if conversations != 0 {
		t.Errorf("conversations = %d, want 0", conversations)
	}
}

func TestIngestHandoffOpensConversation(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	if _, err := p.Ingest(context.Background(), inboundText("wamid.m1", "menu")); err != nil {
		t.Fatalf("Ingest(menu): %v", err)
	}
	msg, err := p.Ingest(context.Background(), inboundText("wamid.m2", "0"))
	if err != nil {
		t.Fatalf("Ingest(0): %v", err)
	}
	if msg == nil {
		t.Fatal("handoff produced no message")
	}

	var conv models.Conversation
	if err := db.First(&conv, msg.ConversationID).Error; err != nil {
		t.Fatalf("conversation missing: %v", err)
	}
	if conv.Status != models.ConversationOpen {
		t.Errorf("status = %s", conv.Status)
	}

	// The bot session ended with the handoff.
	var active int64
	db.Model(&models.BotSession{}).Where("status = ?", models.BotSessionActive).Count(&active)
	if active != 0 {
		t.Errorf("active sessions = %d", active)
	}
}

func TestIngestValidation(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	if _, err := p.Ingest(context.Background(), Inbound{From: "11987654321"}); !apperr.IsValidation(err) {
		t.Errorf("missing channel: error = %v", err)
	}
	if _, err := p.Ingest(context.Background(), Inbound{Channel: "whatsapp"}); !apperr.IsValidation(err) {
		t.Errorf("missing sender: error = %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	db := openTestDB(t)
	p, deliverer, _ := setupPipeline(t, db)

	in, err := p.Ingest(context.Background(), inboundText("wamid.in", "hi"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	msg, err := p.Send(context.Background(), in.ConversationID, "Welcome!", models.MessageText)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.SendStatus != models.SendSent {
		t.Errorf("send status = %s", msg.SendStatus)
	}
	if msg.ProviderMessageID == nil || *msg.ProviderMessageID == "" {
		t.Error("provider id not recorded")
	}
	if msg.ClientID == "" {
		t.Error("client id not assigned")
	}
	if got := deliverer.Sent(); len(got) != 1 || got[0] != "Welcome!" {
		t.Errorf("delivered = %v", got)
	}
}

func TestSendFailureCapturedOnMessage(t *testing.T) {
	db := openTestDB(t)
	p, deliverer, _ := setupPipeline(t, db)

	in, err := p.Ingest(context.Background(), inboundText("wamid.in", "hi"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	deliverer.FailWith = errors.New("provider down")
	msg, err := p.Send(context.Background(), in.ConversationID, "Welcome!", models.MessageText)
	if err != nil {
		t.Fatalf("Send should not raise on delivery failure: %v", err)
	}
	if msg.SendStatus != models.SendFailed {
		t.Errorf("send status = %s", msg.SendStatus)
	}
	if msg.SendError == "" {
		t.Error("send error not captured")
	}

	// The message row persists as the delivery audit trail.
	var stored models.Message
	if err := db.First(&stored, msg.ID).Error; err != nil {
		t.Fatalf("stored message missing: %v", err)
	}
	if stored.SendStatus != models.SendFailed {
		t.Errorf("stored status = %s", stored.SendStatus)
	}
}

func TestSendOnClosedConversationConflicts(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	in, err := p.Ingest(context.Background(), inboundText("wamid.in", "hi"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := conversation.Close(db, in.ConversationID, "alice"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = p.Send(context.Background(), in.ConversationID, "too late", models.MessageText)
	if !apperr.IsConflict(err) {
		t.Errorf("error = %v, want conflict", err)
	}
}

func TestUpdateDeliveryStatusMonotonic(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	in, err := p.Ingest(context.Background(), inboundText("wamid.in", "hi"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	sent, err := p.Send(context.Background(), in.ConversationID, "Welcome!", models.MessageText)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	pid := *sent.ProviderMessageID

	// Read implies delivered even when the delivered event never arrived.
	if err := p.UpdateDeliveryStatus(StatusUpdate{ProviderMessageID: pid, Status: "read", Timestamp: time.Now()}); err != nil {
		t.Fatalf("UpdateDeliveryStatus(read): %v", err)
	}
	var msg models.Message
	db.First(&msg, sent.ID)
	if !msg.Delivered || !msg.Read {
		t.Errorf("flags = delivered:%v read:%v", msg.Delivered, msg.Read)
	}
	readAt := msg.ReadAt

	// A late delivered event must not regress anything.
	if err := p.UpdateDeliveryStatus(StatusUpdate{ProviderMessageID: pid, Status: "delivered", Timestamp: time.Now()}); err != nil {
		t.Fatalf("UpdateDeliveryStatus(delivered): %v", err)
	}
	db.First(&msg, sent.ID)
	if !msg.Read || msg.ReadAt == nil || !msg.ReadAt.Equal(*readAt) {
		t.Errorf("late delivered event regressed read state")
	}

	// Unknown statuses are no-ops.
	if err := p.UpdateDeliveryStatus(StatusUpdate{ProviderMessageID: pid, Status: "warehoused"}); err != nil {
		t.Fatalf("UpdateDeliveryStatus(unknown): %v", err)
	}
}

func TestUpdateDeliveryStatusUnknownMessage(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	err := p.UpdateDeliveryStatus(StatusUpdate{ProviderMessageID: "wamid.ghost", Status: "delivered"})
	if !apperr.IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestMessageTypeMapping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"text", models.MessageText},
		{"image", models.MessageMedia},
		{"audio", models.MessageMedia},
		{"video", models.MessageMedia},
		{"document", models.MessageMedia},
		{"sticker", models.MessageMedia},
		{"template", models.MessageTemplate},
		{"", models.MessageText},
		{"reaction", models.MessageText},
	}
	for _, tt := range tests {
		if got := messageType(tt.in); got != tt.want {
			t.Errorf("messageType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
