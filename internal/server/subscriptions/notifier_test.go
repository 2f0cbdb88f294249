package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastNotifier(p Publisher) *Notifier {
	n := NewNotifier(p, nil)
	n.backoff = func(int) time.Duration { return 0 }
	return n
}

func TestSendWebhook(t *testing.T) {
	var received Notification
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := Notification{SubscriptionID: "sub-1", Event: sampleEvent()}
	require.NoError(t, fastNotifier(nil).SendWebhook(context.Background(), srv.URL, n))

	assert.Equal(t, "sub-1", received.SubscriptionID)
	assert.Equal(t, EventRelationshipCreated, headers.Get("X-Relgraph-Event"))
	assert.Equal(t, "sub-1", headers.Get("X-Relgraph-Subscription"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestSendWebhookRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastNotifier(nil).SendWebhook(context.Background(), srv.URL, Notification{}))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSendWebhookGivesUp(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := fastNotifier(nil).SendWebhook(context.Background(), srv.URL, Notification{})
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusInternalServerError, werr.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, []byte) error { return errors.New("nats down") }

func TestNotifierPublish(t *testing.T) {
	assert.NoError(t, fastNotifier(nil).Publish("subject", sampleEvent()))

	pub := newRecordingPublisher()
	require.NoError(t, fastNotifier(pub).Publish("relgraph.test", sampleEvent()))
	assert.Equal(t, 1, pub.count("relgraph.test"))

	assert.NoError(t, fastNotifier(pub).Publish("", sampleEvent()))

	err := fastNotifier(failingPublisher{}).Publish("relgraph.test", sampleEvent())
	assert.ErrorContains(t, err, "nats down")
}
