package app

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"flowdesk/api/internal/search"
	"flowdesk/api/internal/store"
	"flowdesk/api/internal/util"
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

type DealInput struct {
	Name              string  `json:"name"`
	Value             float64 `json:"value"`
	Stage             string  `json:"stage"`
	ContactName       string  `json:"contactName"`
	ContactEmail      string  `json:"contactEmail"`
	ExpectedCloseDate string  `json:"expectedCloseDate"`
	Priority          string  `json:"priority"`
	Notes             string  `json:"notes"`
}

// validateDeal collects every field error so the client can show them
// all at once.
func validateDeal(input DealInput) map[string]string {
	fieldErrors := make(map[string]string)
	if strings.TrimSpace(input.Name) == "" {
		fieldErrors["name"] = "Deal name is required"
	}
	if input.Value <= 0 {
		fieldErrors["value"] = "Deal value must be greater than 0"
	}
	if strings.TrimSpace(input.ContactName) == "" {
		fieldErrors["contactName"] = "Contact name is required"
	}
	if strings.TrimSpace(input.ContactEmail) == "" {
		fieldErrors["contactEmail"] = "Contact email is required"
	} else if !emailPattern.MatchString(input.ContactEmail) {
		fieldErrors["contactEmail"] = "Please enter a valid email address"
	}
	if strings.TrimSpace(input.ExpectedCloseDate) == "" {
		fieldErrors["expectedCloseDate"] = "Expected close date is required"
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

func (s *Service) ListDeals(ctx context.Context) ([]map[string]any, error) {
	deals, err := s.store.ListDeals(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(deals))
	for _, deal := range deals {
		items = append(items, dealPayload(deal))
	}
	return items, nil
}

func (s *Service) GetDeal(ctx context.Context, id int) (map[string]any, error) {
	deal, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	return dealPayload(deal), nil
}

func (s *Service) CreateDeal(ctx context.Context, input DealInput) (map[string]any, error) {
	if fieldErrors := validateDeal(input); fieldErrors != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Deal validation failed", fieldErrors)
	}
	if err := s.checkStage(ctx, input.Stage); err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = "medium"
	}
	deal, err := s.store.CreateDeal(ctx, store.Deal{
		Name:              strings.TrimSpace(input.Name),
		Value:             input.Value,
		Stage:             input.Stage,
		ContactName:       strings.TrimSpace(input.ContactName),
		ContactEmail:      strings.TrimSpace(input.ContactEmail),
		ExpectedCloseDate: input.ExpectedCloseDate,
		Priority:          priority,
		Notes:             input.Notes,
	})
	if err != nil {
		return nil, err
	}

	s.indexDeal(deal)
	return dealPayload(deal), nil
}

func (s *Service) UpdateDeal(ctx context.Context, id int, input DealInput) (map[string]any, error) {
	if fieldErrors := validateDeal(input); fieldErrors != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Deal validation failed", fieldErrors)
	}
	if err := s.checkStage(ctx, input.Stage); err != nil {
		return nil, err
	}

	existing, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = existing.Priority
	}
	deal, err := s.store.UpdateDeal(ctx, store.Deal{
		ID:                id,
		Name:              strings.TrimSpace(input.Name),
		Value:             input.Value,
		Stage:             input.Stage,
		ContactName:       strings.TrimSpace(input.ContactName),
		ContactEmail:      strings.TrimSpace(input.ContactEmail),
		ExpectedCloseDate: input.ExpectedCloseDate,
		Priority:          priority,
		Notes:             input.Notes,
	})
	if err != nil {
		return nil, err
	}

	s.indexDeal(deal)
	return dealPayload(deal), nil
}

// MoveDeal drags a deal to another pipeline column. Moving to the stage
// it is already in is a no-op, not an error.
func (s *Service) MoveDeal(ctx context.Context, id int, stage string) (map[string]any, error) {
	deal, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if deal.Stage == stage {
		return dealPayload(deal), nil
	}
	if err := s.checkStage(ctx, stage); err != nil {
		return nil, err
	}

	moved, err := s.store.UpdateDealStage(ctx, id, stage)
	if err != nil {
		return nil, err
	}
	s.indexDeal(moved)
	return dealPayload(moved), nil
}

func (s *Service) DeleteDeal(ctx context.Context, id int) error {
	if err := s.store.DeleteDeal(ctx, id); err != nil {
		return err
	}
	s.search.DeleteDeal(strconv.Itoa(id))
	return nil
}

// Pipeline groups deals into stage columns. query filters deals by a
// case-insensitive substring over name, contact name and contact email.
// Deals whose stage matches no configured column are dropped from the
// board, not shown in a catch-all.
func (s *Service) Pipeline(ctx context.Context, query string) (map[string]any, error) {
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	deals, err := s.store.ListDeals(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle != "" {
		filtered := deals[:0]
		for _, deal := range deals {
			if strings.Contains(strings.ToLower(deal.Name), needle) ||
				strings.Contains(strings.ToLower(deal.ContactName), needle) ||
				strings.Contains(strings.ToLower(deal.ContactEmail), needle) {
				filtered = append(filtered, deal)
			}
		}
		deals = filtered
	}

	byStage := make(map[string][]store.Deal)
	for _, deal := range deals {
		byStage[deal.Stage] = append(byStage[deal.Stage], deal)
	}

	columns := make([]map[string]any, 0, len(stages))
	boardValue := 0.0
	boardCount := 0
	for _, stage := range stages {
		stageDeals := byStage[stage.Name]
		items := make([]map[string]any, 0, len(stageDeals))
		stageValue := 0.0
		for _, deal := range stageDeals {
			items = append(items, dealPayload(deal))
			stageValue += deal.Value
		}
		boardValue += stageValue
		boardCount += len(stageDeals)
		columns = append(columns, map[string]any{
			"id":         stage.ID,
			"name":       stage.Name,
			"deals":      items,
			"totalValue": stageValue,
			"count":      len(stageDeals),
		})
	}

	return map[string]any{
		"stages":     columns,
		"totalValue": boardValue,
		"totalCount": boardCount,
	}, nil
}

// Stages

func (s *Service) ListStages(ctx context.Context) ([]map[string]any, error) {
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(stages))
	for _, stage := range stages {
		items = append(items, stagePayload(stage))
	}
	return items, nil
}

func (s *Service) CreateStage(ctx context.Context, name string, order int) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Stage name is required", nil)
	}
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range stages {
		if strings.EqualFold(existing.Name, name) {
			return nil, domainError(http.StatusConflict, "STAGE_EXISTS", "A stage with that name already exists", nil)
		}
	}

	stage, err := s.store.CreateStage(ctx, store.Stage{
		ID:    util.NewShortID("stg"),
		Name:  name,
		Order: order,
	})
	if err != nil {
		return nil, err
	}
	return stagePayload(stage), nil
}

// UpdateStage renames or reorders a stage. Renaming moves its deals
// along with it.
func (s *Service) UpdateStage(ctx context.Context, id, name string, order int) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Stage name is required", nil)
	}
	existing, err := s.store.GetStage(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == 0 {
		order = existing.Order
	}

	stage, err := s.store.UpdateStage(ctx, store.Stage{ID: id, Name: name, Order: order})
	if err != nil {
		return nil, err
	}

	if existing.Name != name {
		deals, err := s.store.ListDeals(ctx)
		if err != nil {
			return nil, err
		}
		for _, deal := range deals {
			if deal.Stage == existing.Name {
				if moved, err := s.store.UpdateDealStage(ctx, deal.ID, name); err == nil {
					s.indexDeal(moved)
				}
			}
		}
	}
	return stagePayload(stage), nil
}

// DeleteStage removes an empty pipeline column. Columns with deals in
// them cannot be deleted.
func (s *Service) DeleteStage(ctx context.Context, id string) error {
	stage, err := s.store.GetStage(ctx, id)
	if err != nil {
		return err
	}
	deals, err := s.store.ListDeals(ctx)
	if err != nil {
		return err
	}
	for _, deal := range deals {
		if deal.Stage == stage.Name {
			return domainError(http.StatusConflict, "STAGE_NOT_EMPTY", "Move or delete the deals in this stage first", nil)
		}
	}
	return s.store.DeleteStage(ctx, id)
}

func (s *Service) checkStage(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Stage is required", nil)
	}
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		if stage.Name == name {
			return nil
		}
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown stage", map[string]any{"stage": name})
}

func (s *Service) indexDeal(deal store.Deal) {
	s.search.IndexDeal(search.DealRecord{
		ID:           strconv.Itoa(deal.ID),
		Name:         deal.Name,
		ContactName:  deal.ContactName,
		ContactEmail: deal.ContactEmail,
		Notes:        deal.Notes,
		Stage:        deal.Stage,
	})
}

func dealPayload(deal store.Deal) map[string]any {
	return map[string]any{
		"id":                deal.ID,
		"name":              deal.Name,
		"value":             deal.Value,
		"stage":             deal.Stage,
		"contactName":       deal.ContactName,
		"contactEmail":      deal.ContactEmail,
		"expectedCloseDate": deal.ExpectedCloseDate,
		"priority":          deal.Priority,
		"notes":             deal.Notes,
		"createdAt":         deal.CreatedAt,
		"lastModified":      deal.LastModified,
	}
}

func stagePayload(stage store.Stage) map[string]any {
	return map[string]any{
		"id":    stage.ID,
		"name":  stage.Name,
		"order": stage.Order,
	}
}
