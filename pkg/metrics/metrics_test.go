package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveFetchCountsByResult(t *testing.T) {
	okBefore := testutil.ToFloat64(syncFetches.WithLabelValues("balance", "ok"))
	errBefore := testutil.ToFloat64(syncFetches.WithLabelValues("balance", "error"))

	ObserveFetch("balance", time.Now(), nil)
	ObserveFetch("balance", time.Now(), errors.New("boom"))
	ObserveFetch("balance", time.Now(), nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(syncFetches.WithLabelValues("balance", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(syncFetches.WithLabelValues("balance", "error")))
}

func TestTransferFinished(t *testing.T) {
	before := testutil.ToFloat64(transfers.WithLabelValues("confirmed"))
	TransferFinished("confirmed")
	assert.Equal(t, before+1, testutil.ToFloat64(transfers.WithLabelValues("confirmed")))
}

func TestWSClientsGauge(t *testing.T) {
	before := testutil.ToFloat64(wsClients)
	WSClientConnected()
	WSClientConnected()
	WSClientDisconnected()
	assert.Equal(t, before+1, testutil.ToFloat64(wsClients))
}
