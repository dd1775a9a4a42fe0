package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_login_total",
		Help: "Login attempts by outcome and, on success, resolving source.",
	}, []string{"outcome", "source"})
	restoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_session_restore_total",
		Help: "Session restore results.",
	}, []string{"outcome"})
	remoteTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_remote_timeouts_total",
		Help: "Remote identity calls that lost the race against their timeout.",
	}, []string{"operation"})
)
