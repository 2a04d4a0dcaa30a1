package bot

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	counterSupportTickets = "support_tickets"
	counterReportTickets  = "report_tickets"
	counterSponsorTickets = "sponsor_tickets"
)

var seededCounterTypes = []string{
	counterSupportTickets,
	counterReportTickets,
	counterSponsorTickets,
}

// TicketCounter holds the last ticket number issued for a ticket type.
type TicketCounter struct {
	CounterType  string `gorm:"primaryKey;size:50" json:"counter_type"`
	CurrentCount int    `gorm:"not null;default:0" json:"current_count"`
}

func (TicketCounter) TableName() string {
	return "ticket_counters"
}

// seedTicketCounters inserts a zeroed counter for each ticket type that
// doesn't already have one.
func seedTicketCounters(tx *gorm.DB) error {
	for _, counterType := range seededCounterTypes {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(
			&TicketCounter{CounterType: counterType},
		).Error
		if err != nil {
			return fmt.Errorf("error seeding counter %q: %w", counterType, err)
		}
	}
	return nil
}

// NextTicketNumber increments and returns the counter for counterType.
// A missing counter is created starting at 1.
//
// The increment is a single upsert, and the read happens in the same
// transaction, so concurrent callers never receive the same number, even
// for a counter that doesn't exist yet.
func NextTicketNumber(ctx context.Context, db DBI, counterType string) (int, error) {
	if counterType == "" {
		return 0, errors.New("counter type required")
	}

	var next int
	err := db.Transaction(
		ctx, func(tx *gorm.DB) error {
			err := tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "counter_type"}},
					DoUpdates: clause.Assignments(
						map[string]any{
							"current_count": gorm.Expr("ticket_counters.current_count + ?", 1),
						},
					),
				},
			).Create(&TicketCounter{CounterType: counterType, CurrentCount: 1}).Error
			if err != nil {
				return err
			}

			var counter TicketCounter
			if err = tx.Where(
				"counter_type = ?",
				counterType,
			).Take(&counter).Error; err != nil {
				return err
			}
			next = counter.CurrentCount
			return nil
		},
	)
	if err != nil {
		return 0, fmt.Errorf("error getting next %s number: %w", counterType, err)
	}
	return next, nil
}
