package account

import "sync"

// List is the set of known accounts. At most one record exists per
// identifier. All mutation goes through the list's mutex; callers never
// hold it across a network call.
type List struct {
	mu       sync.Mutex
	accounts []*Account
}

// NewList returns an empty account list.
func NewList() *List {
	return &List{}
}

// Upsert replaces the record with the same identifier, or appends the
// account when no such record exists.
func (l *List) Upsert(acct *Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.accounts {
		if existing.Identifier == acct.Identifier {
			l.accounts[i] = acct
			return
		}
	}
	l.accounts = append(l.accounts, acct)
}

// Get returns the record for the identifier, or nil.
func (l *List) Get(identifier string) *Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acct := range l.accounts {
		if acct.Identifier == identifier {
			return acct
		}
	}
	return nil
}

// Remove drops the record for the identifier, if present.
func (l *List) Remove(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, acct := range l.accounts {
		if acct.Identifier == identifier {
			l.accounts = append(l.accounts[:i], l.accounts[i+1:]...)
			return
		}
	}
}

// All returns a snapshot of the current records.
func (l *List) All() []*Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Account, len(l.accounts))
	copy(out, l.accounts)
	return out
}

// Len returns the number of stored records.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}
