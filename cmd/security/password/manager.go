package password

// Manager hashes new passwords and verifies stored ones, reporting when a
// stored hash should be replaced. It is immutable and safe for concurrent use.
type Manager struct {
	cfg Config
}

// NewManager returns a Manager for cfg.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// Config returns the configuration the manager hashes with.
func (m *Manager) Config() Config { return m.cfg }

// Hash enforces the policy and returns a new Argon2id hash.
func (m *Manager) Hash(password string) (string, error) {
	return m.cfg.Hash(password)
}

// Verify reports whether password matches stored. Malformed hashes do not match.
func (m *Manager) Verify(password, stored string) bool {
	ok, _ := m.verify(password, stored)
	return ok
}

// VerifyAndUpdate verifies password against stored. When it matches and
// stored is outdated, newHash carries a replacement under the current
// parameters; otherwise newHash is empty. Malformed stored hashes yield
// (false, "").
func (m *Manager) VerifyAndUpdate(password, stored string) (matched bool, newHash string) {
	ok, err := m.verify(password, stored)
	if err != nil || !ok {
		return false, ""
	}
	if !m.NeedsRehash(stored) {
		return true, ""
	}

	h, err := m.cfg.encode(password)
	if err != nil {
		// The password still matched; the upgrade waits for the next login.
		return true, ""
	}
	return true, h
}

// NeedsRehash reports whether stored was produced by a legacy scheme or with
// parameters other than the current ones. Malformed hashes report false.
func (m *Manager) NeedsRehash(stored string) bool {
	if isBcrypt(stored) {
		return true
	}
	same, err := m.cfg.sameParams(stored)
	return err == nil && !same
}

func (m *Manager) verify(password, stored string) (bool, error) {
	if isBcrypt(stored) {
		return verifyBcrypt(stored, password)
	}
	return m.cfg.Verify(stored, password)
}
