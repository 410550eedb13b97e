package quota

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultLimit = 10000
	dateLayout   = "2006-01-02"
)

var ErrQuotaExceeded = errors.New("daily quota exceeded")

// Record is the number of confirmed transactions on Date.
type Record struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Repository stores the single active Record. Load reports found=false when
// nothing has been stored yet.
type Repository interface {
	Load() (rec Record, found bool, err error)
	Save(rec Record) error
}

// Tracker enforces the daily limit. It assumes a single process and a single
// run at a time; the read-modify-write in Increment is not locked.
type Tracker struct {
	repo  Repository
	limit int
	now   func() time.Time
}

func NewTracker(repo Repository, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{repo: repo, limit: limit, now: time.Now}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Limit() int {
	return t.limit
}

func (t *Tracker) today() string {
	return t.now().Format(dateLayout)
}

// Read returns today's record. A missing or stale record reads as
// {today, 0}; nothing is written.
func (t *Tracker) Read() (Record, error) {
	today := t.today()
	rec, found, err := t.repo.Load()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read quota: %w", err)
	}
	if !found || rec.Date != today {
		return Record{Date: today, Count: 0}, nil
	}
	return rec, nil
}

// Reserve checks that requested more transactions fit in today's quota.
func (t *Tracker) Reserve(requested int) (Record, error) {
	rec, err := t.Read()
	if err != nil {
		return Record{}, err
	}
	if rec.Count+requested > t.limit {
		return rec, fmt.Errorf("%w: %d sent today, %d requested, limit %d",
			ErrQuotaExceeded, rec.Count, requested, t.limit)
	}
	return rec, nil
}

// Increment tallies one confirmed transaction.
func (t *Tracker) Increment() (Record, error) {
	rec, err := t.Read()
	if err != nil {
		return Record{}, err
	}
	rec.Count++
	if err := t.repo.Save(rec); err != nil {
		return Record{}, fmt.Errorf("failed to save quota: %w", err)
	}
	return rec, nil
}

// Remaining is how many more transactions fit today.
func (t *Tracker) Remaining() (int, error) {
	rec, err := t.Read()
	if err != nil {
		return 0, err
	}
	if rec.Count >= t.limit {
		return 0, nil
	}
	return t.limit - rec.Count, nil
}
