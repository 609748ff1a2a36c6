package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(fn func(c *gin.Context)) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)
	return w
}

func TestSuccess(t *testing.T) {
	w := record(func(c *gin.Context) { Success(c, gin.H{"n": 1}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"n":1}}`, w.Body.String())
}

func TestInvalidParameter(t *testing.T) {
	w := record(func(c *gin.Context) { InvalidParameter(c, "resolution", 5, []int{9, 8}) })
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid parameter", resp.Message)
	assert.JSONEq(t, `{"code":400,"message":"invalid parameter","details":{"param":"resolution","value":5,"allowed":[9,8]}}`, w.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, record(func(c *gin.Context) { NotFound(c, "x") }).Code)
	assert.Equal(t, http.StatusUnauthorized, record(func(c *gin.Context) { Unauthorized(c, "x") }).Code)
	assert.Equal(t, http.StatusTooManyRequests, record(TooManyRequests).Code)
	assert.Equal(t, http.StatusInternalServerError, record(func(c *gin.Context) { InternalError(c, "x") }).Code)
	assert.Equal(t, http.StatusServiceUnavailable, record(func(c *gin.Context) { Unavailable(c, nil) }).Code)
}
