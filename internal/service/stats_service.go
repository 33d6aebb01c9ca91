package service

import (
	"context"
	"time"

	"github.com/unclebandit/mailblast-backend/internal/model"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

// RecipientCounter is the directory capability the dashboard needs.
type RecipientCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatsService aggregates the delivery log on every call; nothing is cached.
type StatsService struct {
	Logs       repository.DeliveryLogRepositoryInterface
	Recipients RecipientCounter
	// Clock defaults to time.Now. Its location defines "today".
	Clock func() time.Time
}

func (s *StatsService) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

// startOfDay is local midnight of t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TodayStats counts log entries written since local midnight.
func (s *StatsService) TodayStats(ctx context.Context) (*model.DailyStats, error) {
	since := startOfDay(s.now())

	counts, err := s.Logs.StatsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return &model.DailyStats{
		DeliveryCounts: counts,
		Since:          since,
		SuccessRate:    counts.SuccessRate(),
	}, nil
}

func (s *StatsService) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	total, err := s.Recipients.Count(ctx)
	if err != nil {
		return nil, err
	}
	today, err := s.TodayStats(ctx)
	if err != nil {
		return nil, err
	}
	return &model.DashboardStats{
		TotalRecipients: total,
		EmailsSentToday: today.Sent,
		SuccessRate:     today.SuccessRate,
	}, nil
}
