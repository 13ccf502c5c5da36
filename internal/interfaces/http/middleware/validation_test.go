package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/batchalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationProbe struct {
	BatchNumber string `json:"batch_number" binding:"required,max=8"`
	Quantity    int64  `json:"quantity" binding:"min=0"`
	Status      string `json:"status" binding:"omitempty,batch_status"`
	OrderStatus string `json:"order_status" binding:"omitempty,order_status"`
}

func newValidationRouter(t *testing.T) *gin.Engine {
	t.Helper()
	require.NoError(t, SetupValidator())

	router := gin.New()
	router.Use(RequestID())
	router.POST("/test", func(c *gin.Context) {
		var req validationProbe
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(req))
	})
	return router
}

func postProbe(t *testing.T, router *gin.Engine, body string) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestValidation_CustomTags(t *testing.T) {
	router := newValidationRouter(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"valid batch status", `{"batch_number":"B1","status":"recalled"}`, http.StatusOK, ""},
		{"unknown batch status", `{"batch_number":"B1","status":"archived"}`, http.StatusBadRequest, "status"},
		{"valid order status", `{"batch_number":"B1","order_status":"paid"}`, http.StatusOK, ""},
		{"unknown order status", `{"batch_number":"B1","order_status":"shipped"}`, http.StatusBadRequest, "order_status"},
		{"missing required", `{"quantity":1}`, http.StatusBadRequest, "batch_number"},
		{"negative quantity", `{"batch_number":"B1","quantity":-1}`, http.StatusBadRequest, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := postProbe(t, router, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantField == "" {
				assert.True(t, resp.Success)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
			require.Len(t, resp.Error.Details, 1)
			assert.Equal(t, tt.wantField, resp.Error.Details[0].Field)
		})
	}
}

func TestValidation_MalformedJSON(t *testing.T) {
	router := newValidationRouter(t)

	w, resp := postProbe(t, router, `{"batch_number":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
	assert.Empty(t, resp.Error.Details)
}
