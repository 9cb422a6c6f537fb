package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPushOutcome(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := c.PushOutcome(context.Background(), Outcome{
		AccountID: "acct-1", Purpose: "transfer otp", Channel: "sms", Delivered: false, Error: "timeout", At: at,
	})
	if err != nil {
		t.Fatalf("PushOutcome: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != "custodial-ledger" || s.Stream["status"] != "failed" || s.Stream["purpose"] != "transfer_otp" {
		t.Errorf("labels = %v", s.Stream)
	}
	if s.Values[0][0] != "1748779200000000000" {
		t.Errorf("timestamp = %s", s.Values[0][0])
	}
	if !strings.Contains(s.Values[0][1], `"account_id":"acct-1"`) {
		t.Errorf("line = %s", s.Values[0][1])
	}
}

func TestPushOutcome_ExpiredStatusLabel(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PushOutcome(context.Background(), Outcome{AccountID: "acct-1", Purpose: "email_code", Channel: "sms", Expired: true})
	if err != nil {
		t.Fatalf("PushOutcome: %v", err)
	}
	if len(got.Streams) != 1 || got.Streams[0].Stream["status"] != "expired" {
		t.Errorf("streams = %+v, want status=expired", got.Streams)
	}
}

func TestPushEvent_Errors(t *testing.T) {
	if err := (&Client{}).PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("empty base URL should fail")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := NewClient(srv.URL).PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("non-2xx should fail")
	}
}
