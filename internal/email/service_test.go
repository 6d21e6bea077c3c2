package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderShareTemplate(t *testing.T) {
	data := ShareData{
		AppName:       "FlowDesk",
		RecipientName: "Jane Smith",
		InviterName:   "John Doe",
		DocumentTitle: "Product Requirements Document",
		Permission:    "editor",
		DocumentURL:   "https://app.example.com/documents/doc_1",
	}

	html, err := renderTemplate(shareEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "FlowDesk") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Jane Smith") {
		t.Error("template should contain recipient name")
	}
	if !strings.Contains(html, "John Doe") {
		t.Error("template should contain inviter name")
	}
	if !strings.Contains(html, "Product Requirements Document") {
		t.Error("template should contain document title")
	}
	if !strings.Contains(html, "https://app.example.com/documents/doc_1") {
		t.Error("template should contain document URL")
	}
}

func TestSendEmailRequiresConfig(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"to@example.com"}, "subject", "body"); err == nil {
		t.Error("expected error when email is not configured")
	}
	if err := svc.SendHTMLEmail([]string{"to@example.com"}, "subject", "<p>body</p>"); err == nil {
		t.Error("expected error when email is not configured")
	}
}
