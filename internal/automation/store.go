package automation

// Store is the persistence collaborator for rules, global config, and the
// durable activity history. The SQLite implementation lives in
// internal/rulesdb; tests inject in-memory fakes.
type Store interface {
	ListRules() ([]*Rule, error)
	GetRule(id string) (*Rule, error)
	// SaveRule inserts or replaces a rule. Implementations must reject
	// rules failing Validate and never persist them.
	SaveRule(r *Rule) error
	DeleteRule(id string) error

	Config() (GlobalConfig, error)
	SaveConfig(cfg GlobalConfig) error

	// AppendActivity persists one firing, trimming history past the
	// store's retention cap.
	AppendActivity(ev ActivityEvent) error
	RecentActivity(limit int) ([]ActivityEvent, error)
	ClearActivity() error

	// LastModified returns a monotonically-increasing change marker so a
	// running daemon can detect edits made by another process (CLI, web).
	LastModified() (int64, error)

	Close() error
}
