package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pricegov/internal/models"
	"pricegov/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- ticks ------------------------------------------------------------------

func (s *Store) InsertTick(ctx context.Context, item *models.Tick) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListRecentTicks(ctx context.Context, sku string, limit int) ([]models.Tick, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, nil
	}
	var items []models.Tick
	if err := s.db.WithContext(ctx).
		Model(&models.Tick{}).
		Where("sku = ?", sku).
		Order("ts desc").
		Order("id desc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTicks(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Tick{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- ingestion jobs ---------------------------------------------------------

func (s *Store) CreateIngestionJob(ctx context.Context, item *models.IngestionJob) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.JobQueued
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) TransitionIngestionJob(ctx context.Context, id string, t repository.JobTransition) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	from := models.JobPredecessors(t.Status)
	if strings.TrimSpace(id) == "" || len(from) == 0 {
		return false, nil
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updates := map[string]any{"status": t.Status}
	switch t.Status {
	case models.JobRunning:
		updates["started_at"] = at
	default:
		updates["finished_at"] = at
	}
	if t.Error != nil {
		updates["error"] = *t.Error
	}
	if t.TickCount != nil {
		updates["tick_count"] = *t.TickCount
	}
	res := s.db.WithContext(ctx).
		Model(&models.IngestionJob{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetIngestionJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.IngestionJob
	err := s.db.WithContext(ctx).Model(&models.IngestionJob{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListIngestionJobs(ctx context.Context, params repository.ListIngestionJobsParams) ([]models.IngestionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.IngestionJob{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.ToUpper(strings.TrimSpace(*params.Status)))
	}
	if params.SKU != nil && strings.TrimSpace(*params.SKU) != "" {
		query = query.Where("sku = ?", strings.TrimSpace(*params.SKU))
	}
	if params.RequestID != nil && strings.TrimSpace(*params.RequestID) != "" {
		query = query.Where("request_id = ?", strings.TrimSpace(*params.RequestID))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.IngestionJob
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountIngestionJobsByStatus(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return map[string]int64{}, nil
	}
	return countByStatus(s.db.WithContext(ctx).Model(&models.IngestionJob{}))
}

// --- decision log -----------------------------------------------------------

func (s *Store) InsertDecisionIfAbsent(ctx context.Context, item *models.DecisionLog) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	if item.Status == "" {
		item.Status = models.DecisionReceived
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "proposal_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetDecision(ctx context.Context, proposalID string) (*models.DecisionLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return s.GetDecisionTx(ctx, s.db, proposalID)
}

func (s *Store) GetDecisionTx(ctx context.Context, tx *gorm.DB, proposalID string) (*models.DecisionLog, error) {
	if tx == nil {
		return nil, nil
	}
	proposalID = strings.TrimSpace(proposalID)
	if proposalID == "" {
		return nil, nil
	}
	var item models.DecisionLog
	err := tx.WithContext(ctx).Model(&models.DecisionLog{}).Where("proposal_id = ?", proposalID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FinalizeDecision(ctx context.Context, proposalID string, u repository.DecisionUpdate) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	return s.FinalizeDecisionTx(ctx, s.db, proposalID, u)
}

func (s *Store) FinalizeDecisionTx(ctx context.Context, tx *gorm.DB, proposalID string, u repository.DecisionUpdate) (bool, error) {
	if tx == nil || !models.IsTerminalDecision(u.Status) {
		return false, nil
	}
	at := u.ProcessedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updates := map[string]any{
		"status":       u.Status,
		"processed_at": at,
	}
	if u.FinalPrice != nil {
		updates["final_price"] = *u.FinalPrice
	}
	if u.Reason != nil {
		updates["reason"] = *u.Reason
	}
	res := tx.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Where("proposal_id = ?", proposalID).
		Where("status = ?", models.DecisionReceived).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.DecisionLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyDecisionFilters(s.db.WithContext(ctx).Model(&models.DecisionLog{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "received_at")
	var items []models.DecisionLog
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountDecisions(ctx context.Context, params repository.ListDecisionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := applyDecisionFilters(s.db.WithContext(ctx).Model(&models.DecisionLog{}), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountDecisionsByStatus(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return map[string]int64{}, nil
	}
	return countByStatus(s.db.WithContext(ctx).Model(&models.DecisionLog{}))
}

func applyDecisionFilters(query *gorm.DB, params repository.ListDecisionsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.ToUpper(strings.TrimSpace(*params.Status)))
	}
	if params.ProductID != nil && strings.TrimSpace(*params.ProductID) != "" {
		query = query.Where("product_id = ?", strings.TrimSpace(*params.ProductID))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("received_at >= ?", *params.Since)
	}
	return query
}

// --- pricing ledger ---------------------------------------------------------

func (s *Store) GetLedger(ctx context.Context, sku string) (*models.PricingLedger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, nil
	}
	var item models.PricingLedger
	err := s.db.WithContext(ctx).Model(&models.PricingLedger{}).Where("product_name = ?", sku).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListLedger(ctx context.Context) ([]models.PricingLedger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PricingLedger
	if err := s.db.WithContext(ctx).Model(&models.PricingLedger{}).Order("product_name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpsertLedger is the manual/seed path; automated writers use CompareAndSwapPriceTx.
func (s *Store) UpsertLedger(ctx context.Context, item *models.PricingLedger) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.ProductName = strings.TrimSpace(item.ProductName)
	if item.ProductName == "" {
		return nil
	}
	if item.LastUpdate.IsZero() {
		item.LastUpdate = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "last_update", "reason"}),
	}).Create(item).Error
}

func (s *Store) CompareAndSwapPriceTx(ctx context.Context, tx *gorm.DB, sku string, expected, next decimal.Decimal, at time.Time, reason string) (int64, error) {
	if tx == nil {
		return 0, nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := tx.WithContext(ctx).
		Model(&models.PricingLedger{}).
		Where("product_name = ?", sku).
		Where("price = ?", expected).
		Updates(map[string]any{
			"price":       next,
			"last_update": at,
			"reason":      reason,
		})
	return res.RowsAffected, res.Error
}

// --- settings ---------------------------------------------------------------

func (s *Store) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.Setting
	err := s.db.WithContext(ctx).Model(&models.Setting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSetting(ctx context.Context, item *models.Setting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) ListSettings(ctx context.Context) ([]models.Setting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Setting
	if err := s.db.WithContext(ctx).Model(&models.Setting{}).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- products ---------------------------------------------------------------

func (s *Store) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, nil
	}
	var item models.Product
	err := s.db.WithContext(ctx).Model(&models.Product{}).Where("sku = ?", sku).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertProduct(ctx context.Context, item *models.Product) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.SKU = strings.TrimSpace(item.SKU)
	if item.SKU == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "cost", "updated_at"}),
	}).Create(item).Error
}

// --- proposal audit ---------------------------------------------------------

func (s *Store) InsertProposalRecord(ctx context.Context, item *models.PriceProposalRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListProposalRecords(ctx context.Context, params repository.ListProposalRecordsParams) ([]models.PriceProposalRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PriceProposalRecord{})
	if params.SKU != nil && strings.TrimSpace(*params.SKU) != "" {
		query = query.Where("sku = ?", strings.TrimSpace(*params.SKU))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	var items []models.PriceProposalRecord
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func countByStatus(query *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := query.Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
