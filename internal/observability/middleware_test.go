package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/lightmesh/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestAdminAccessLabelsRoutesAndQuietsHealthChecks(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	RegisterMetrics()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := gin.New()
	r.Use(AdminAccess(logger, "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/peers/:addr", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404"))
	for _, path := range []string{"/health", "/peers/fd00::2", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")); got != before+1 {
		t.Fatalf("unmatched requests got=%v want=%v", got, before+1)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/peers/:addr", "200")); got < 1 {
		t.Fatalf("route template not used as label, got=%v", got)
	}
	out := buf.String()
	if strings.Contains(out, `"route":"/health"`) {
		t.Fatalf("quiet route logged at debug: %s", out)
	}
	if !strings.Contains(out, `"route":"/peers/:addr"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected debug and warn access lines: %s", out)
	}
}
