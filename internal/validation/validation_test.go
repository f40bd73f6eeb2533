package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidWalletKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"nami", true},
		{"eternl", true},
		{"gero-wallet", true},
		{"", false},
		{"Nami", false},
		{"nami wallet", false},
		{strings.Repeat("a", 33), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidWalletKey(tt.key), "key %q", tt.key)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "0xabc", SanitizeString("  0xabc \n", 100))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("txHash", " "),
		Required("walletAddress", "addr1"),
		MaxLength("walletAddress", strings.Repeat("x", MaxFieldLength+1), MaxFieldLength),
		Printable("txHash", "0xab\tc"),
	)
	if assert.Len(t, errs, 3) {
		assert.Equal(t, "txHash", errs[0].Field)
		assert.Equal(t, "txHash: is required", errs.Error())
		assert.Equal(t, "exceeds maximum length", errs[1].Message)
		assert.Equal(t, "contains control characters", errs[2].Message)
	}

	assert.Empty(t, Validate(Required("txHash", "0xabc"), Printable("txHash", "0xabc")))
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestWalletKeyParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/wallets/:key/connect", WalletKeyParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/wallets/eternl/connect", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/wallets/BAD%20KEY/connect", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_wallet_key")
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]string
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"txHash":"0123456789"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
