package services

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"vault-gate/models"
)

func startCreditStream(t *testing.T, svc *UserService) string {
	t.Helper()
	app := fiber.New()
	app.Get("/users/:wallet/credits/stream", svc.StreamCredits)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })
	return ln.Addr().String()
}

// openCreditStream dials the stream on a raw connection so the test controls
// when the client goes away.
func openCreditStream(t *testing.T, addr, wallet string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/users/"+wallet+"/credits/stream", nil)
	require.NoError(t, err)
	require.NoError(t, req.Write(conn))
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	return conn, bufio.NewReader(resp.Body)
}

func nextCreditUpdate(t *testing.T, r *bufio.Reader) creditUpdate {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: "); ok {
			var u creditUpdate
			require.NoError(t, json.Unmarshal([]byte(data), &u))
			return u
		}
	}
}

func TestStreamCredits_PushesChanges(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, walletA, 4)
	svc := NewUserService(db, nil, nil)
	svc.StreamInterval = 10 * time.Millisecond
	addr := startCreditStream(t, svc)

	conn, r := openCreditStream(t, addr, "0x52908400098527886E0F7030069857D2E4169EE7")
	defer conn.Close()

	first := nextCreditUpdate(t, r)
	assert.Equal(t, walletA, first.WalletAddress)
	assert.Equal(t, int64(4), first.Credits)

	require.NoError(t, db.Model(&models.User{}).Where("wallet_address = ?", walletA).Update("credits", 9).Error)
	assert.Equal(t, int64(9), nextCreditUpdate(t, r).Credits)
}

func TestStreamCredits_StopsAfterClientLeaves(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, walletA, 4)
	core, logs := observer.New(zap.DebugLevel)
	svc := NewUserService(db, nil, zap.New(core))
	svc.StreamInterval = 10 * time.Millisecond
	addr := startCreditStream(t, svc)

	conn, r := openCreditStream(t, addr, walletA)
	assert.Equal(t, int64(4), nextCreditUpdate(t, r).Credits)
	require.NoError(t, conn.Close())

	// the balance never changes, so only the keepalive write can notice
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("[USER] credit stream closed").Len() == 1
	}, 3*time.Second, 10*time.Millisecond)
}
