package http

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketPredict(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, fluModel()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	exchange := func(msg string) string {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		require.NoError(t, conn.SetWriteDeadline(deadline))
		require.NoError(t, conn.SetReadDeadline(deadline))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		_, reply, err := conn.ReadMessage()
		require.NoError(t, err)
		return string(reply)
	}

	assert.Equal(t,
		`{"confidence_percent":70.0,"disclaimer":"This is not a medical diagnosis","predicted_disease":"flu","top_3_diseases":["flu","cold","allergy"]}`+"\n",
		exchange(`{"symptoms": ["fever", "cough"]}`))
	assert.Equal(t, `{"error":"symptoms list required"}`+"\n", exchange(`{}`))
	assert.Equal(t, `{"error":"symptoms must be a list of strings"}`+"\n", exchange(`{"symptoms": 1}`))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	upgrader := newUpgrader([]string{"https://app.example"})

	req := httptest.NewRequest("GET", "http://svc.local/ws/predict", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://svc.local")
	assert.True(t, upgrader.CheckOrigin(req))
}
