package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/chats/:id", func(c *gin.Context) { c.String(http.StatusOK, "chat") })
	r.DELETE("/api/v1/admin/cache", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	chat := httpReqs.WithLabelValues("GET", "/api/v1/chats/:id", "200")
	miss := httpReqs.WithLabelValues("GET", unmatchedPath, "404")
	baseChat, baseMiss := testutil.ToFloat64(chat), testutil.ToFloat64(miss)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/chats/7", http.StatusOK},
		{http.MethodGet, "/api/v1/chats/8", http.StatusOK},
		{http.MethodGet, "/wp-login.php", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/admin/cache", http.StatusNoContent},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d", tc.method, tc.path, w.Code)
		}
	}

	if got := testutil.ToFloat64(chat); got != baseChat+2 {
		t.Fatalf("chat counter = %v; want %v (ids must not become labels)", got, baseChat+2)
	}
	if got := testutil.ToFloat64(miss); got != baseMiss+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseMiss+1)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("inflight = %v; want 0", got)
	}
}

func TestMetrics_UpgradeCountedNotTimed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/ws-upgrade", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	req := httptest.NewRequest(http.MethodGet, "/ws-upgrade", nil)
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ws-upgrade", "400")); got != 1 {
		t.Fatalf("upgrade counter = %v; want 1", got)
	}
	// The latency histogram must not have grown a series for the route.
	lat := testutil.CollectAndCount(httpLat)
	httpLat.DeleteLabelValues("GET", "/ws-upgrade")
	if after := testutil.CollectAndCount(httpLat); after != lat {
		t.Fatalf("upgrade was timed: %d series before delete, %d after", lat, after)
	}
}
