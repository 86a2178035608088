package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStartServerDisabled(t *testing.T) {
	for _, addr := range []string{"", "  ", "off", "Disabled", "false"} {
		srv, errCh := StartServer(context.Background(), addr, zerolog.Nop())
		assert.Nil(t, srv, "addr %q", addr)
		assert.Nil(t, errCh, "addr %q", addr)
	}
}

func TestStartServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv, _ := StartServer(ctx, "127.0.0.1:0", zerolog.Nop())
	assert.NotNil(t, srv)
	cancel()
}

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(BulkActionsTotal.WithLabelValues("mute", "success"))
	BulkActionsTotal.WithLabelValues("mute", "success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BulkActionsTotal.WithLabelValues("mute", "success")))

	CatalogRules.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(CatalogRules))
}
