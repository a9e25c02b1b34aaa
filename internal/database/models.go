package database

import (
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
)

// Delivery statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Column widths, in characters, of the bounded Delivery fields.
const (
	maxRecordIDLen      = 64
	maxCorrelationIDLen = 64
	maxObjectKeyLen     = 512
	maxRecipientLen     = 320
	maxErrorMessageLen  = 1024
)

const ellipsis = "..."

// Delivery 记录单条请求的处理结果，一条队列记录对应一行。
// 重复投递的消息会产生新的行与新的对象键。
type Delivery struct {
	gorm.Model
	RecordID      string `gorm:"size:64;index"`
	CorrelationID string `gorm:"size:64;index"`
	ObjectKey     string `gorm:"size:512"`
	Recipient     string `gorm:"size:320;index"`
	Strategy      string `gorm:"size:16"`
	Notified      bool
	Status        string `gorm:"size:32;index"`
	Stage         string `gorm:"size:16"`
	ErrorCode     int
	ErrorMessage  string `gorm:"size:1024"`
}

// clamped returns d with every bounded column cut to fit its width.
// Recipients are unvalidated under the none strategy and error messages
// may quote input, so either can exceed the column.
func (d Delivery) clamped() Delivery {
	d.RecordID = clip(d.RecordID, maxRecordIDLen)
	d.CorrelationID = clip(d.CorrelationID, maxCorrelationIDLen)
	d.ObjectKey = clip(d.ObjectKey, maxObjectKeyLen)
	d.Recipient = clip(d.Recipient, maxRecipientLen)
	d.ErrorMessage = clip(d.ErrorMessage, maxErrorMessageLen)
	return d
}

// clip returns valid UTF-8 of at most limit runes, ending in an ellipsis
// when s had to be cut.
func clip(s string, limit int) string {
	s = strings.ToValidUTF8(s, "�")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + ellipsis
		}
		n++
	}
	return s + ellipsis
}
