package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/cache"
	"auctionhouse/internal/chain"
)

func testKey(t *testing.T, b byte) *chain.Keypair {
	t.Helper()
	kp, err := chain.KeypairFromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return kp
}

func TestLoginIssuesAdminRoleForConfiguredAddress(t *testing.T) {
	ctx := context.Background()
	admin := testKey(t, 1)
	svc := &Service{Cache: cache.NewMemoryStore(), JWT: JWT{Secret: []byte("s3cret")}, AdminAddress: admin.Address()}

	ch, err := svc.Challenge(ctx, admin.Address().String())
	require.NoError(t, err)
	sig := admin.SignPersonalMessage([]byte(ch.Message))

	sess, err := svc.Login(ctx, admin.Address().String(), sig)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, sess.Role)

	claims, err := svc.JWT.Verify(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, admin.Address().String(), claims.Address)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = svc.Login(ctx, admin.Address().String(), sig)
	assert.ErrorIs(t, err, ErrChallengeMissing)
}

func TestLoginRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	user := testKey(t, 2)
	other := testKey(t, 3)
	svc := &Service{Cache: cache.NewMemoryStore(), JWT: JWT{Secret: []byte("s3cret")}}

	ch, err := svc.Challenge(ctx, user.Address().String())
	require.NoError(t, err)
	_, err = svc.Login(ctx, user.Address().String(), other.SignPersonalMessage([]byte(ch.Message)))
	assert.ErrorIs(t, err, ErrLoginRejected)
}

func TestChallengeRejectsMalformedAddress(t *testing.T) {
	svc := &Service{Cache: cache.NewMemoryStore()}
	_, err := svc.Challenge(context.Background(), "0x12zz")
	assert.ErrorIs(t, err, chain.ErrInvalidObjectID)
}

func TestMiddlewareRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	j := JWT{Secret: []byte("k")}
	r := gin.New()
	r.GET("/me", Middleware(j, true), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Role)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, _, err := j.Sign(Claims{Address: "0x01", Role: RoleUser})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, RoleUser, w.Body.String())
}
