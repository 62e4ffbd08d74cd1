package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/category"
	"github.com/example/waste-sort/internal/logging"
	"github.com/example/waste-sort/internal/repository"
)

// HistoryEntry is one analysis as returned to its owner. Timestamps are
// ISO-8601 strings.
type HistoryEntry struct {
	AnalyzeID     uint     `json:"analyze_id"`
	AnalyzeUID    string   `json:"analyze_uid"`
	UserUID       string   `json:"user_uid"`
	IPAddress     string   `json:"ip_address"`
	Label         string   `json:"label"`
	Category      string   `json:"category"`
	Description   string   `json:"description"`
	DisposalSteps []string `json:"disposal_steps"`
	Image         string   `json:"image"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"update_at"`
}

// History returns every analysis of userUID, newest first. A user without
// records gets an empty slice.
func (uc *AnalysisUseCase) History(ctx context.Context, requestID, userUID string) ([]HistoryEntry, error) {
	if userUID == "" {
		return nil, ErrUnauthorized
	}

	key := historyCacheKey(userUID)
	var cached []HistoryEntry
	if uc.cachedJSON(ctx, requestID, key, &cached) {
		if cached == nil {
			cached = []HistoryEntry{}
		}
		return cached, nil
	}

	records, err := uc.repo.ListByUser(ctx, userUID)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.history", requestID, err)
		logging.WithOperation(uc.logger, "usecase.history", requestID).Error("failed to load history", zap.Error(wrapped))
		return nil, wrapped
	}

	entries := make([]HistoryEntry, 0, len(records))
	for i := range records {
		entries = append(entries, toHistoryEntry(&records[i]))
	}
	uc.cacheJSON(ctx, requestID, key, entries)
	return entries, nil
}

func toHistoryEntry(r *repository.AnalysisRecord) HistoryEntry {
	entry := HistoryEntry{
		AnalyzeID:     r.ID,
		AnalyzeUID:    r.AnalyzeUID,
		IPAddress:     r.IPAddress,
		Label:         r.Label,
		Category:      r.Category,
		Description:   r.Description,
		DisposalSteps: r.DisposalSteps,
		Image:         r.Image,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.UserUID != nil {
		entry.UserUID = *r.UserUID
	}
	if entry.DisposalSteps == nil {
		entry.DisposalSteps = []string{}
	}
	return entry
}

// HistorySummary represents aggregated analysis counts for one user.
type HistorySummary struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
}

// GetHistorySummary aggregates a user's analyses per category. Every category
// is present in the result, with zero when the user has none.
func (uc *AnalysisUseCase) GetHistorySummary(ctx context.Context, requestID, userUID string) (*HistorySummary, error) {
	if userUID == "" {
		return nil, ErrUnauthorized
	}

	key := summaryCacheKey(userUID)
	var cached HistorySummary
	if uc.cachedJSON(ctx, requestID, key, &cached) && cached.ByCategory != nil {
		return &cached, nil
	}

	rows, err := uc.repo.SummarizeByUser(ctx, userUID)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.history_summary", requestID, err)
		logging.WithOperation(uc.logger, "usecase.history_summary", requestID).Error("failed to summarize history", zap.Error(wrapped))
		return nil, wrapped
	}

	summary := &HistorySummary{ByCategory: make(map[string]int64, len(category.Categories()))}
	for _, c := range category.Categories() {
		summary.ByCategory[c.String()] = 0
	}
	for _, row := range rows {
		summary.ByCategory[row.Category] += row.Total
		summary.Total += row.Total
	}
	uc.cacheJSON(ctx, requestID, key, summary)
	return summary, nil
}
