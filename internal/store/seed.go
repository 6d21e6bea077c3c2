package store

import (
	"context"
	"time"
)

// Seed loads the demo dataset into an empty store. The server boots with
// this data when no database is configured, mirroring what a fresh
// workspace looks like. demoPasswordHash is the bcrypt hash every demo
// account signs in with.
func Seed(ctx context.Context, m *Memory, demoPasswordHash string) error {
	users, err := m.ListUsersUnsafe()
	if err == nil && len(users) > 0 {
		return nil
	}

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	seedUsers := []User{
		{ID: "usr_1", Name: "John Doe", Email: "john@example.com", PasswordHash: demoPasswordHash, Color: "#3B82F6", CreatedAt: now, UpdatedAt: now},
		{ID: "usr_2", Name: "Jane Smith", Email: "jane@example.com", PasswordHash: demoPasswordHash, Color: "#10B981", CreatedAt: now, UpdatedAt: now},
		{ID: "usr_3", Name: "Bob Johnson", Email: "bob@example.com", PasswordHash: demoPasswordHash, Color: "#F59E0B", CreatedAt: now, UpdatedAt: now},
	}
	for _, user := range seedUsers {
		if err := m.CreateUser(ctx, user); err != nil {
			return err
		}
	}

	resolvedAt := now.Add(54 * time.Hour)
	seedDocuments := []Document{
		{
			ID:      "doc_1",
			Title:   "Product Requirements Document",
			Content: "<h1>Product Requirements Document</h1><p>This document outlines the requirements for our new product feature...</p>",
			OwnerID: "usr_1",
			Collaborators: []Collaborator{
				{UserID: "usr_2", Permission: "editor", AddedAt: now},
				{UserID: "usr_3", Permission: "viewer", AddedAt: now},
			},
			Comments: []Comment{
				{
					ID:         "cmt_1",
					DocumentID: "doc_1",
					UserID:     "usr_2",
					UserName:   "Jane Smith",
					Content:    "Great start! Can we add more details about the user interface?",
					Selection:  &Selection{From: 120, To: 150},
					CreatedAt:  now.Add(3 * time.Hour),
				},
			},
			Version:   3,
			CreatedAt: now,
			UpdatedAt: now.Add(5 * time.Hour),
		},
		{
			ID:      "doc_2",
			Title:   "Team Meeting Notes",
			Content: "<h1>Team Meeting</h1><h2>Agenda</h2><ol><li>Project updates</li><li>Sprint planning</li></ol>",
			OwnerID: "usr_2",
			Collaborators: []Collaborator{
				{UserID: "usr_1", Permission: "editor", AddedAt: now},
				{UserID: "usr_3", Permission: "editor", AddedAt: now},
			},
			Version:   2,
			CreatedAt: now.Add(24 * time.Hour),
			UpdatedAt: now.Add(30 * time.Hour),
		},
		{
			ID:      "doc_3",
			Title:   "API Documentation",
			Content: "<h1>API Documentation</h1><p>This document describes the REST API endpoints for our application.</p>",
			OwnerID: "usr_3",
			Collaborators: []Collaborator{
				{UserID: "usr_1", Permission: "viewer", AddedAt: now},
			},
			Comments: []Comment{
				{
					ID:         "cmt_2",
					DocumentID: "doc_3",
					UserID:     "usr_1",
					UserName:   "John Doe",
					Content:    "Should we include rate limiting information?",
					Selection:  &Selection{From: 200, To: 250},
					Resolved:   true,
					ResolvedAt: &resolvedAt,
					Replies: []Reply{
						{ID: "rpl_1", UserID: "usr_3", UserName: "Bob Johnson", Content: "Good point! I'll add that section.", CreatedAt: now.Add(53 * time.Hour)},
					},
					CreatedAt: now.Add(52 * time.Hour),
				},
			},
			Version:   1,
			CreatedAt: now.Add(48 * time.Hour),
			UpdatedAt: now.Add(54 * time.Hour),
		},
	}
	for _, doc := range seedDocuments {
		if err := m.InsertDocument(ctx, doc); err != nil {
			return err
		}
	}

	seedStages := []Stage{
		{ID: "stg_1", Name: "New Lead", Order: 1},
		{ID: "stg_2", Name: "Qualified", Order: 2},
		{ID: "stg_3", Name: "Proposal", Order: 3},
		{ID: "stg_4", Name: "Negotiation", Order: 4},
		{ID: "stg_5", Name: "Won", Order: 5},
	}
	for _, stage := range seedStages {
		if _, err := m.CreateStage(ctx, stage); err != nil {
			return err
		}
	}

	seedDeals := []Deal{
		{Name: "Acme Corp Website Redesign", Value: 15000, Stage: "New Lead", ContactName: "Sarah Chen", ContactEmail: "sarah@acme.com", ExpectedCloseDate: "2024-03-15", Priority: "high"},
		{Name: "Globex CRM Migration", Value: 42000, Stage: "Qualified", ContactName: "Peter Gibbons", ContactEmail: "peter@globex.com", ExpectedCloseDate: "2024-04-01", Priority: "medium"},
		{Name: "Initech Support Contract", Value: 8000, Stage: "Proposal", ContactName: "Samir N.", ContactEmail: "samir@initech.com", ExpectedCloseDate: "2024-02-28", Priority: "low"},
		{Name: "Umbrella Analytics Platform", Value: 67000, Stage: "Negotiation", ContactName: "Alice Abernathy", ContactEmail: "alice@umbrella.io", ExpectedCloseDate: "2024-05-20", Priority: "high"},
	}
	for _, deal := range seedDeals {
		if _, err := m.CreateDeal(ctx, deal); err != nil {
			return err
		}
	}

	return nil
}

// ListUsersUnsafe lists users without pagination; only used during seeding.
func (m *Memory) ListUsersUnsafe() ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]User, 0, len(m.users))
	for _, user := range m.users {
		items = append(items, user)
	}
	return items, nil
}
