// Package memory holds in-process implementations of the repositories.
// They back unit tests and the single-binary dry runs; Postgres is the
// production store.
package memory

// Store bundles one instance of every repository.
type Store struct {
	Accounts *AccountStore
	States   *SyncStateStore
	Jobs     *JobStore
	Activity *ActivityStore
}

func New() *Store {
	return &Store{
		Accounts: NewAccountStore(),
		States:   NewSyncStateStore(),
		Jobs:     NewJobStore(),
		Activity: NewActivityStore(),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
