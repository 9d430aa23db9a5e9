package credential

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var credentialRotations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "skkn_credential_rotations_total",
		Help: "Total number of credential rotations.",
	},
	[]string{"reason"},
)

