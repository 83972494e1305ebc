package http

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/adapters/registry"
	"github.com/keyward/keyward/adapters/store"
	"github.com/keyward/keyward/adapters/tokenizer"
	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/service"
)

// stubVerifier accepts responses shaped {"credential_id":"...","sign_count":N}
// so ceremony flows can run end to end without an authenticator.
type stubVerifier struct{}

type stubResponse struct {
	CredentialID string `json:"credential_id"`
	SignCount    uint32 `json:"sign_count"`
	Fail         bool   `json:"fail"`
}

func (stubVerifier) BuildRegistrationChallenge(core.Account, []core.Credential) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{"challenge":"reg"}}`), []byte("state"), nil
}

func (stubVerifier) BuildAssertionChallenge(*core.Account, []core.Credential) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{"challenge":"auth"}}`), []byte("state"), nil
}

func (stubVerifier) AssertedCredentialID(response []byte) (string, error) {
	var parsed stubResponse
	if err := json.Unmarshal(response, &parsed); err != nil || parsed.CredentialID == "" {
		return "", fmt.Errorf("malformed response")
	}
	return parsed.CredentialID, nil
}

func (stubVerifier) VerifyRegistrationResponse(_ []byte, account core.Account, response []byte) (core.Credential, error) {
	var parsed stubResponse
	if err := json.Unmarshal(response, &parsed); err != nil || parsed.Fail {
		return core.Credential{}, fmt.Errorf("verification rejected")
	}
	return core.Credential{ID: parsed.CredentialID, AccountID: account.ID, PublicKey: []byte("pk")}, nil
}

func (stubVerifier) VerifyAssertionResponse(_ []byte, _ core.Account, _ []core.Credential, response []byte) (core.AssertionResult, error) {
	var parsed stubResponse
	if err := json.Unmarshal(response, &parsed); err != nil || parsed.Fail {
		return core.AssertionResult{}, fmt.Errorf("verification rejected")
	}
	return core.AssertionResult{CredentialID: parsed.CredentialID, SignCount: parsed.SignCount, Proof: []byte("proof")}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	challengeStore := store.NewMemoryStore()
	t.Cleanup(challengeStore.Close)

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	ceremonies := service.NewCeremonyService(
		challengeStore,
		reg,
		stubVerifier{},
		tokenizer.NewJWTTokenizer(signKey, time.Hour),
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return SetupRouter(ceremonies)
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

// register runs a full registration ceremony and returns the bearer token.
func register(t *testing.T, router *gin.Engine, username string) string {
	t.Helper()

	rec, body := doJSON(t, router, http.MethodPost, "/auth/register/start", "", gin.H{
		"username":     username,
		"display_name": username,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := body["session_id"].(string)
	require.NotEmpty(t, body["creation_challenge"])

	rec, body = doJSON(t, router, http.MethodPost, "/auth/register/finish", "", gin.H{
		"session_id": sessionID,
		"credential": gin.H{"credential_id": "cred-" + username},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegistrationAndLoginFlow(t *testing.T) {
	router := newTestRouter(t)
	token := register(t, router, "alice")

	rec, body := doJSON(t, router, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accountID := body["account_id"].(string)
	require.NotEmpty(t, accountID)

	rec, body = doJSON(t, router, http.MethodPost, "/auth/login/start", "", gin.H{})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := body["session_id"].(string)

	rec, body = doJSON(t, router, http.MethodPost, "/auth/login/finish", "", gin.H{
		"session_id": sessionID,
		"credential": gin.H{"credential_id": "cred-alice", "sign_count": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, accountID, body["account_id"])
}

func TestLoginFinishUnknownSession(t *testing.T) {
	router := newTestRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/auth/login/finish", "", gin.H{
		"session_id": "bogus",
		"credential": gin.H{"credential_id": "cred-x"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "session is unknown or expired", body["error"])
}

func TestLoginFinishFailuresAreOpaque(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	// Unknown credential and failed verification produce the same response.
	for _, credential := range []gin.H{
		{"credential_id": "cred-unknown", "sign_count": 1},
		{"credential_id": "cred-alice", "fail": true},
	} {
		rec, body := doJSON(t, router, http.MethodPost, "/auth/login/start", "", gin.H{})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body = doJSON(t, router, http.MethodPost, "/auth/login/finish", "", gin.H{
			"session_id": body["session_id"],
			"credential": credential,
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "authentication failed", body["error"])
	}
}

func TestProtectedEndpointsRequireSession(t *testing.T) {
	router := newTestRouter(t)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/me", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceProvisioningAndSigning(t *testing.T) {
	router := newTestRouter(t)
	token := register(t, router, "alice")

	rec, body := doJSON(t, router, http.MethodPost, "/devices/install-key", token, gin.H{
		"device_id":  "dev-1",
		"categories": []string{"sensor"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	installKey := body["install_key"].(string)
	require.NotEmpty(t, installKey)

	// Redemption needs no session, only the key.
	rec, body = doJSON(t, router, http.MethodPost, "/devices/redeem", "", gin.H{
		"install_key": installKey,
		"public_key":  "device-pk",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "dev-1", body["device_id"])

	rec, _ = doJSON(t, router, http.MethodPost, "/devices/redeem", "", gin.H{
		"install_key": installKey,
		"public_key":  "device-pk",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = doJSON(t, router, http.MethodPost, "/devices/sign/start", token, gin.H{
		"device_id": "dev-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := body["session_id"].(string)

	rec, body = doJSON(t, router, http.MethodPost, "/devices/sign/finish", token, gin.H{
		"session_id": sessionID,
		"credential": gin.H{"credential_id": "cred-alice", "sign_count": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "dev-1", body["device_id"])
	require.NotEmpty(t, body["signed_at"])

	// A signed device cannot start another ceremony.
	rec, _ = doJSON(t, router, http.MethodPost, "/devices/sign/start", token, gin.H{
		"device_id": "dev-1",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeviceSignStartUnknownDevice(t *testing.T) {
	router := newTestRouter(t)
	token := register(t, router, "alice")

	rec, _ := doJSON(t, router, http.MethodPost, "/devices/sign/start", token, gin.H{
		"device_id": "ghost",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
