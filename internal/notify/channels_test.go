package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelegramPlainTextRetry(t *testing.T) {
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		requests = append(requests, payload)
		if _, hasMode := payload["parse_mode"]; hasMode {
			http.Error(w, `{"ok":false,"description":"can't parse entities"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch := &TelegramChannel{Token: "tok", ChatID: "42", Client: srv.Client(), baseURL: srv.URL}
	if err := ch.Send(context.Background(), "**报告** [坏括号"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want markdown then plain retry", len(requests))
	}
	if requests[0]["parse_mode"] != "Markdown" {
		t.Errorf("first request = %+v", requests[0])
	}
	if _, hasMode := requests[1]["parse_mode"]; hasMode {
		t.Errorf("retry still carries parse_mode: %+v", requests[1])
	}
}

func TestWeComPayloadShape(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	ch := &WeComChannel{WebhookURL: srv.URL, Client: srv.Client()}
	if err := ch.Send(context.Background(), "**内容**"); err != nil {
		t.Fatal(err)
	}
	if payload["msgtype"] != "markdown" {
		t.Errorf("payload = %+v", payload)
	}

	text := &WeComChannel{WebhookURL: srv.URL, TextMode: true, Client: srv.Client()}
	if text.Budget() != wecomTextCap {
		t.Errorf("text budget = %d", text.Budget())
	}
	if err := text.Send(context.Background(), "**内容**"); err != nil {
		t.Fatal(err)
	}
	if payload["msgtype"] != "text" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDetectSMTP(t *testing.T) {
	cases := []struct {
		sender   string
		host     string
		port     int
		implicit bool
	}{
		{"a@qq.com", "smtp.qq.com", 465, true},
		{"a@foxmail.com", "smtp.qq.com", 465, true},
		{"a@163.com", "smtp.163.com", 465, true},
		{"a@126.com", "smtp.126.com", 465, true},
		{"a@gmail.com", "smtp.gmail.com", 587, false},
		{"a@outlook.com", "smtp.office365.com", 587, false},
		{"a@hotmail.com", "smtp.office365.com", 587, false},
		{"a@aliyun.com", "smtp.aliyun.com", 465, true},
		{"a@139.com", "smtp.139.com", 465, true},
		{"a@corp.example.com", "smtp.corp.example.com", 465, true}, // guessed
	}
	for _, c := range cases {
		p, err := detectSMTP(c.sender)
		if err != nil {
			t.Errorf("detectSMTP(%s): %v", c.sender, err)
			continue
		}
		if p.Host != c.host || p.Port != c.port || p.Implicit != c.implicit {
			t.Errorf("detectSMTP(%s) = %+v", c.sender, p)
		}
	}
	if _, err := detectSMTP("not-an-address"); err == nil {
		t.Error("invalid sender should error")
	}
}

func TestBudgetOverrides(t *testing.T) {
	feishu := &FeishuChannel{WebhookURL: "https://x"}
	if got := feishu.Budget(); got != feishuBudget {
		t.Errorf("feishu default budget = %d", got)
	}
	feishu.MaxBytes = 5000
	if got := feishu.Budget(); got != 5000 {
		t.Errorf("feishu override budget = %d", got)
	}

	wecom := &WeComChannel{WebhookURL: "https://x", TextMode: true}
	if got := wecom.Budget(); got != wecomTextCap {
		t.Errorf("wecom text budget = %d", got)
	}
	wecom.MaxBytes = 3000
	if got := wecom.Budget(); got != 3000 {
		t.Errorf("wecom override budget = %d", got)
	}
}
