package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// TopicHolidayCalendar carries additions and removals for the non-working-day
// calendar maintained by the reference-data owner.
const TopicHolidayCalendar = "reference.holiday.calendar.v1"

type holidayEvent struct {
	Action      string `json:"action"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// HolidayHandler applies calendar events to local holiday storage.
func HolidayHandler(repo *storage.HolidayRepository) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt holidayEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode holiday event: %w", err)
		}
		date, err := time.Parse("2006-01-02", evt.Date)
		if err != nil {
			return fmt.Errorf("parse holiday date %q: %w", evt.Date, err)
		}

		switch evt.Action {
		case "removed":
			return repo.Delete(ctx, date)
		case "added", "updated":
			return repo.Upsert(ctx, model.Holiday{Date: date, Description: evt.Description})
		default:
			return fmt.Errorf("unknown holiday action %q", evt.Action)
		}
	}
}
