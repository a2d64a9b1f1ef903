package users

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts identity flow outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins        *prometheus.CounterVec
	registrations *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	rehashes      *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "authentications_total",
			Help:      "Authentication attempts by outcome (blocked, not_found, bad_password, ok, error).",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "registrations_total",
			Help:      "Registrations by outcome.",
		}, []string{"outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "tokens_total",
			Help:      "Token issues and redemptions by audience and outcome.",
		}, []string{"audience", "outcome"}),
		rehashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "password_rehashes_total",
			Help:      "Password hash upgrades on login by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.registrations, m.tokens, m.rehashes)
	}
	return m
}

const (
	outcomeOK          = "ok"
	outcomeBlocked     = "blocked"
	outcomeNotFound    = "not_found"
	outcomeBadPassword = "bad_password"
	outcomeError       = "error"
	outcomeConflict    = "conflict"
	outcomeVetoed      = "vetoed"
	outcomeHookFailed  = "hook_failed"
	outcomeIssued      = "issued"
	outcomeRedeemed    = "redeemed"
	outcomeInvalid     = "invalid"
	outcomeReplayed    = "replayed"
	outcomePersisted   = "persisted"
	outcomeFailed      = "failed"
)

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) registration(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) token(audience, outcome string) {
	if m != nil {
		m.tokens.WithLabelValues(audience, outcome).Inc()
	}
}

func (m *Metrics) rehash(outcome string) {
	if m != nil {
		m.rehashes.WithLabelValues(outcome).Inc()
	}
}
