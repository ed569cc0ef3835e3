package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCCOWCall(t *testing.T) {
	before := testutil.ToFloat64(ccowRequestsTotal.WithLabelValues("get", "none"))
	CCOWCall("get", "none")
	after := testutil.ToFloat64(ccowRequestsTotal.WithLabelValues("get", "none"))
	assert.Equal(t, before+1, after)
}

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/dashboard", "200"))
	ObserveRequest("GET", "/dashboard", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/dashboard", "200"))
	assert.Equal(t, before+1, after)
}

func TestAuthAttempt(t *testing.T) {
	before := testutil.ToFloat64(authAttemptsTotal.WithLabelValues("locked"))
	AuthAttempt("locked")
	assert.Equal(t, before+1, testutil.ToFloat64(authAttemptsTotal.WithLabelValues("locked")))
}
