package wizard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

func TestSessionBeginAndDiscard(t *testing.T) {
	sessions := NewSessions()
	sess := sessions.Session("browser-1")

	st := newState(survey.NewRecord("E001", "S01", "F01"))
	sess.Begin(st)
	assert.Equal(t, "E001", sess.Current())

	got, ok := sess.Draft("E001")
	assert.True(t, ok)
	assert.Same(t, st, got)

	sess.Discard("E002")
	assert.Equal(t, "E001", sess.Current())

	sess.Discard("E001")
	assert.Empty(t, sess.Current())
	_, ok = sess.Draft("E001")
	assert.False(t, ok)
}

func TestSessionsAreIsolated(t *testing.T) {
	sessions := NewSessions()
	a := sessions.Session("a")
	b := sessions.Session("b")
	a.Begin(newState(survey.NewRecord("E001", "S01", "F01")))

	_, ok := b.Draft("E001")
	assert.False(t, ok)
	assert.Same(t, a, sessions.Session("a"))
}

func TestSessionsConcurrentAccess(t *testing.T) {
	sessions := NewSessions()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := sessions.Session("shared")
			sess.Lock()
			defer sess.Unlock()
			sess.Begin(newState(survey.NewRecord("E001", "S01", "F01")))
		}()
	}
	wg.Wait()
	assert.Equal(t, "E001", sessions.Session("shared").Current())
}

func TestSessionsPrune(t *testing.T) {
	sessions := NewSessions()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return now }
	sessions.Session("old")
	now = now.Add(3 * time.Hour)
	sessions.Session("fresh")

	assert.Equal(t, 1, sessions.Prune(time.Hour))
	assert.Equal(t, 0, sessions.Prune(time.Hour))
}
