package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/aria/internal/cron"
	"github.com/haasonsaas/aria/internal/observability"
	"github.com/haasonsaas/aria/internal/transport"
	"github.com/haasonsaas/aria/pkg/models"
)

func TestEveryKnownActionHasHandler(t *testing.T) {
	scheduler := cron.NewScheduler(cron.NewMemoryJobStore())
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	tc := transport.NewClient(transport.Config{})

	registerActions(scheduler, metrics, nil, nil, nil, tc, false)

	for action := range models.KnownActions {
		if !scheduler.HasAction(action) {
			t.Errorf("action %s dispatches as unknown_action: no handler registered", action)
		}
	}
}

func TestTelegramPollActionCallsEdge(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"polled":true}`))
	}))
	defer server.Close()

	tc := transport.NewClient(transport.Config{}, transport.Endpoint{
		Name:    edgeEndpoint,
		BaseURL: server.URL,
	})

	fn := telegramPollAction(tc, true)
	if err := fn(context.Background(), &models.CronJob{}, nil); err != nil {
		t.Fatalf("telegram_poll: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/telegram/poll" {
		t.Errorf("edge call = %s %s, want POST /v1/telegram/poll", gotMethod, gotPath)
	}
}

func TestTelegramPollActionUnconfigured(t *testing.T) {
	fn := telegramPollAction(transport.NewClient(transport.Config{}), false)
	err := fn(context.Background(), &models.CronJob{}, nil)
	if err == nil || !strings.Contains(err.Error(), "edge.url") {
		t.Errorf("err = %v, want edge.url configuration error", err)
	}
}
