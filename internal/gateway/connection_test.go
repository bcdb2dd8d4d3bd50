package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

const testToken = "shared-secret"

type messageSink struct {
	mu       sync.Mutex
	messages []domain.Message
}

func (s *messageSink) handle(_ context.Context, message domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *messageSink) all() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// fakeNetwork is the messaging-network side of the session: it runs the
// challenge handshake and then plays the given frames to the client.
type fakeNetwork struct {
	server      *httptest.Server
	frames      []any
	rejectFirst int32

	attempts atomic.Int32
}

func newFakeNetwork(frames ...any) *fakeNetwork {
	network := &fakeNetwork{frames: frames}
	upgrader := websocket.Upgrader{}

	network.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		attempt := network.attempts.Add(1)

		nonce := "nonce-42"
		if conn.WriteJSON(map[string]string{"type": "challenge", "nonce": nonce}) != nil {
			return
		}
		var response struct {
			Type     string `json:"type"`
			Response string `json:"response"`
		}
		if conn.ReadJSON(&response) != nil {
			return
		}

		mac := hmac.New(sha256.New, []byte(testToken))
		mac.Write([]byte(nonce))
		expected := hex.EncodeToString(mac.Sum(nil))
		if response.Response != expected || attempt <= atomic.LoadInt32(&network.rejectFirst) {
			_ = conn.WriteJSON(map[string]string{"type": "denied"})
			return
		}
		if conn.WriteJSON(map[string]string{"type": "ready"}) != nil {
			return
		}

		for _, frame := range network.frames {
			if conn.WriteJSON(frame) != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return network
}

func (n *fakeNetwork) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNetwork) close() { n.server.Close() }

func newTestConnection(t *testing.T, url string, handler Handler) *Connection {
	t.Helper()
	if handler == nil {
		handler = func(context.Context, domain.Message) {}
	}
	creds := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	return NewConnection(Config{
		URL:              url,
		Token:            testToken,
		ReconnectCeiling: 5,
		ReconnectDelay:   20 * time.Millisecond,
		MediaDir:         t.TempDir(),
	}, creds, handler, zap.NewNop())
}

func TestConnectRunsVerificationHandshake(t *testing.T) {
	network := newFakeNetwork()
	defer network.close()

	connection := newTestConnection(t, network.url(), nil)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	assert.Equal(t, StatusConnected, connection.Status())
	assert.Equal(t, 0, connection.ReconnectAttempts())
}

func TestConnectIsNoOpWhileConnected(t *testing.T) {
	network := newFakeNetwork()
	defer network.close()

	connection := newTestConnection(t, network.url(), nil)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	require.NoError(t, connection.Connect(context.Background()))
	assert.Equal(t, StatusConnected, connection.Status())
	assert.EqualValues(t, 1, network.attempts.Load(), "an established session must not be redialed")
}

func TestConnectFailsAgainstWrongToken(t *testing.T) {
	network := newFakeNetwork()
	defer network.close()

	connection := newTestConnection(t, network.url(), nil)
	connection.cfg.Token = "wrong-secret"

	require.Error(t, connection.Connect(context.Background()))
	assert.NotEqual(t, StatusConnected, connection.Status())
}

func TestReconnectCeilingIsTerminal(t *testing.T) {
	// Nothing listens on this address, so every attempt fails.
	connection := newTestConnection(t, "ws://127.0.0.1:1/gateway", nil)

	require.Error(t, connection.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return connection.ReconnectAttempts() == 5
	}, 2*time.Second, 10*time.Millisecond)

	// No sixth attempt is scheduled.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 5, connection.ReconnectAttempts())
	assert.ErrorIs(t, connection.Connect(context.Background()), ErrTerminal)
}

func TestSuccessfulConnectResetsAttemptCounter(t *testing.T) {
	network := newFakeNetwork()
	defer network.close()
	atomic.StoreInt32(&network.rejectFirst, 2)

	connection := newTestConnection(t, network.url(), nil)
	require.Error(t, connection.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return connection.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
	defer connection.Close()

	assert.Equal(t, 0, connection.ReconnectAttempts())
	assert.EqualValues(t, 3, network.attempts.Load())
}

func TestInboundTextIsNormalized(t *testing.T) {
	network := newFakeNetwork(map[string]any{
		"type":      "message",
		"id":        "evt-1",
		"from":      "918800112233",
		"kind":      "extended_text",
		"text":      "payment nahi aaya",
		"timestamp": 1756600000000,
	})
	defer network.close()

	sink := &messageSink{}
	connection := newTestConnection(t, network.url(), sink.handle)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	message := sink.all()[0]
	assert.Equal(t, "evt-1", message.ID)
	assert.Equal(t, "918800112233", message.SenderID)
	assert.Equal(t, domain.MessageKindText, message.Kind)
	assert.Equal(t, "payment nahi aaya", message.Text)
	assert.Equal(t, time.UnixMilli(1756600000000).UTC(), message.ReceivedAt)
}

func TestRedeliveredEventIDIsDroppedOnce(t *testing.T) {
	frame := map[string]any{
		"type": "message",
		"id":   "evt-dup",
		"from": "918800112233",
		"kind": "text",
		"text": "hello",
	}
	network := newFakeNetwork(frame, frame)
	defer network.close()

	sink := &messageSink{}
	connection := newTestConnection(t, network.url(), sink.handle)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	require.Eventually(t, func() bool { return len(sink.all()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.all(), 1)
}

func TestUnsupportedKindIsDroppedNotFatal(t *testing.T) {
	network := newFakeNetwork(
		map[string]any{
			"type": "message",
			"id":   "evt-video",
			"from": "918800112233",
			"kind": "video",
		},
		map[string]any{
			"type": "message",
			"id":   "evt-text",
			"from": "918800112233",
			"kind": "text",
			"text": "still alive",
		},
	)
	defer network.close()

	sink := &messageSink{}
	connection := newTestConnection(t, network.url(), sink.handle)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "evt-text", sink.all()[0].ID)
}

func TestAttachmentDownloadedBeforeMessageEmitted(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer media.Close()

	network := newFakeNetwork(map[string]any{
		"type":      "message",
		"id":        "evt-img",
		"from":      "918800112233",
		"kind":      "image",
		"caption":   "screenshot",
		"media_url": media.URL,
	})
	defer network.close()

	sink := &messageSink{}
	connection := newTestConnection(t, network.url(), sink.handle)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	message := sink.all()[0]
	assert.Equal(t, domain.MessageKindImage, message.Kind)
	assert.Equal(t, "screenshot", message.Text)
	require.NotEmpty(t, message.MediaRef)

	content, err := os.ReadFile(message.MediaRef)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(content))
}

func TestRedeliveryRetriesFailedAttachmentDownload(t *testing.T) {
	var downloads atomic.Int32
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if downloads.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer media.Close()

	frame := map[string]any{
		"type":      "message",
		"id":        "evt-img",
		"from":      "918800112233",
		"kind":      "image",
		"caption":   "screenshot",
		"media_url": media.URL,
	}
	network := newFakeNetwork(frame, frame)
	defer network.close()

	sink := &messageSink{}
	connection := newTestConnection(t, network.url(), sink.handle)
	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	// The first delivery's download fails and the payload is dropped; the
	// redelivered event must not be swallowed by the dedupe cache, since
	// redelivery is the only retry path for attachment downloads.
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, downloads.Load())

	content, err := os.ReadFile(sink.all()[0].MediaRef)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(content))
}

func TestLogoutIsTerminalNoReconnect(t *testing.T) {
	network := newFakeNetwork(map[string]any{"type": "logout", "reason": "logged out from phone"})
	defer network.close()

	connection := newTestConnection(t, network.url(), nil)
	require.NoError(t, connection.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return connection.Status() == StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, connection.ReconnectAttempts(), "logout must not enter the reconnect policy")
	assert.ErrorIs(t, connection.Connect(context.Background()), ErrTerminal)
}

func TestRotatedCredentialsArePersisted(t *testing.T) {
	network := newFakeNetwork(map[string]any{
		"type":        "credentials",
		"credentials": map[string]string{"session": "blob-v2"},
	})
	defer network.close()

	path := filepath.Join(t.TempDir(), "credentials.json")
	creds := NewCredentialStore(path)
	connection := NewConnection(Config{
		URL:              network.url(),
		Token:            testToken,
		ReconnectCeiling: 5,
		ReconnectDelay:   20 * time.Millisecond,
	}, creds, func(context.Context, domain.Message) {}, zap.NewNop())

	require.NoError(t, connection.Connect(context.Background()))
	defer connection.Close()

	require.Eventually(t, func() bool {
		blob, err := creds.Load()
		return err == nil && strings.Contains(string(blob), "blob-v2")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendRequiresConnection(t *testing.T) {
	connection := newTestConnection(t, "ws://127.0.0.1:1/gateway", nil)
	assert.ErrorIs(t, connection.SendText("918800112233", "hi"), ErrNotConnected)
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewCredentialStore(path)

	blob, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, blob, "missing file reads as no credentials")

	require.NoError(t, store.Save([]byte(`{"session":"blob-v1"}`)))
	blob, err = store.Load()
	require.NoError(t, err)
	assert.JSONEq(t, `{"session":"blob-v1"}`, string(blob))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
