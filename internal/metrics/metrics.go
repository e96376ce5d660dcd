// Package metrics は認証まわりの Prometheus メトリクスを定義します。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourusername/session-auth/internal/identity"
)

// result ラベルの値
const (
	ResultSuccess   = "success"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultUnknown   = "unknown"
	ResultError     = "error"
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultQueued    = "queued"
	ResultStored    = "stored"
)

var (
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts by result",
		},
		[]string{"result"},
	)

	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)

	TokenResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_resolutions_total",
			Help: "Total number of session token resolutions by result",
		},
		[]string{"result"},
	)

	TokenCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_cache_total",
			Help: "Token cache lookups by result",
		},
		[]string{"result"},
	)

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_audit_events_total",
			Help: "Audit events by result",
		},
		[]string{"result"},
	)

	PasswordHashSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_password_hash_seconds",
			Help:    "Duration of password hashing and comparison in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)
)

// timedHasher は identity.Hasher の処理時間を計測します。
type timedHasher struct {
	next identity.Hasher
}

// InstrumentHasher は h をラップして処理時間を PasswordHashSeconds に記録します。
func InstrumentHasher(h identity.Hasher) identity.Hasher {
	return &timedHasher{next: h}
}

func (t *timedHasher) Hash(password string) (string, error) {
	start := time.Now()
	defer func() {
		PasswordHashSeconds.WithLabelValues("hash").Observe(time.Since(start).Seconds())
	}()
	return t.next.Hash(password)
}

func (t *timedHasher) Compare(digest, password string) error {
	start := time.Now()
	defer func() {
		PasswordHashSeconds.WithLabelValues("compare").Observe(time.Since(start).Seconds())
	}()
	return t.next.Compare(digest, password)
}
