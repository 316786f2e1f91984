package outbox

import (
	"errors"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
)

// dead-letter messages are clipped to keep the table narrow.
const maxDLQMessageBytes = 1024

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a row the relay gave up on. It runs inside the relay's
// batch transaction so the dead letter and the terminal mark land together.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return errors.New("dead letter needs a known error reason")
	}
	if entry.ErrorMessage != nil {
		clipped := clip(*entry.ErrorMessage, maxDLQMessageBytes)
		entry.ErrorMessage = &clipped
	}
	return tx.Create(&entry).Error
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
