package usecase

import (
	"context"

	"revenue-reconciler/internal/domain"
)

// SpreadsheetReader turns an input file into headers and rows.
// The usecase layer depends on this interface, not on a concrete implementation.
//
//go:generate mockgen -destination=mocks/mock_interface.go -source=interface.go
type SpreadsheetReader interface {
	Read(ctx context.Context, path string) (*domain.Sheet, error)
}

// ProgressPublisher receives one notification per finished phase. stats may be
// nil. Implementations must not block.
type ProgressPublisher interface {
	Notify(step domain.Step, percentage int, stats *domain.ProgressStats)
}
