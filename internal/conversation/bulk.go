package conversation

import (
	"gorm.io/gorm"
)

// BulkResult reports the outcome of one item in a batch transition.
type BulkResult struct {
	ConversationID uint
	Err            error
}

// OK reports whether the item succeeded.
func (r BulkResult) OK() bool { return r.Err == nil }

// BulkAssign assigns each conversation independently. There is no
// all-or-nothing rollback: one conversation's invalid state does not stop the
// rest, and the per-item results carry each failure's reason.
func BulkAssign(db *gorm.DB, conversationIDs []uint, agentID string) []BulkResult {
	results := make([]BulkResult, 0, len(conversationIDs))
	for _, id := range conversationIDs {
		results = append(results, BulkResult{
			ConversationID: id,
			Err:            Assign(db, id, agentID),
		})
	}
	return results
}

// BulkClose closes each conversation independently, reporting per-item
// success or failure.
func BulkClose(db *gorm.DB, conversationIDs []uint, closedBy string) []BulkResult {
	results := make([]BulkResult, 0, len(conversationIDs))
	for _, id := range conversationIDs {
		results = append(results, BulkResult{
			ConversationID: id,
			Err:            Close(db, id, closedBy),
		})
	}
	return results
}
