package notify

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/logging"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
)

// Sink records notifications for users and mirrors them onto the event bus.
// Delivery is best-effort: a failed write is logged and never aborts the
// business operation that triggered it.
type Sink struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

func (s *Sink) Send(ctx context.Context, subject, body string, userIDs []uint) {
	log := logging.FromContext(ctx)

	for _, uid := range userIDs {
		n := models.Notification{
			UserID:  uid,
			Message: subject + ": " + body,
		}
		if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
			log.Error("notification persist failed", "user_id", uid, "error", err)
			continue
		}

		event := map[string]interface{}{
			"type":    "notification_created",
			"userID":  uid,
			"subject": subject,
			"body":    body,
		}
		if err := s.Producer.PublishEvent(ctx, "notification_events", fmt.Sprint(uid), event); err != nil {
			log.Error("notification publish failed", "user_id", uid, "error", err)
		}
	}
}
