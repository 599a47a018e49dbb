package game

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/target-gallery/internal/errors"
)

func TestNormalizeUsername(t *testing.T) {
	_, err := NormalizeUsername("")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = NormalizeUsername(" \t\n")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	name, err := NormalizeUsername("  射手  ")
	require.NoError(t, err)
	assert.Equal(t, "射手", name)

	name, err = NormalizeUsername(strings.Repeat("靶", 40))
	require.NoError(t, err)
	assert.Equal(t, MaxUsernameLength, utf8.RuneCountInString(name))
}

func TestRosterLobby(t *testing.T) {
	r := NewRoster()
	now := time.Now()

	_, err := r.Add("a", "A", StatusWaiting, now)
	require.NoError(t, err)
	_, err = r.Add("b", "B", StatusWaiting, now)
	require.NoError(t, err)
	_, err = r.Add("s", "S", StatusSpectating, now)
	require.NoError(t, err)

	_, err = r.Add("a", "again", StatusWaiting, now)
	assert.True(t, errors.Is(err, errors.ErrAlreadyJoined))

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Lobby())
	assert.False(t, r.AllReady())

	r.SetStatus([]string{"a", "b"}, StatusReady)
	assert.True(t, r.AllReady())

	p, inLobby := r.Remove("a")
	require.NotNil(t, p)
	assert.True(t, inLobby)
	assert.Equal(t, []string{"b"}, r.Lobby())

	p, inLobby = r.Remove("s")
	require.NotNil(t, p)
	assert.False(t, inLobby)

	p, _ = r.Remove("missing")
	assert.Nil(t, p)
}

func TestRosterAllReadyEmptyLobby(t *testing.T) {
	r := NewRoster()
	assert.False(t, r.AllReady())
}

func TestRosterReturnToLobby(t *testing.T) {
	r := NewRoster()
	now := time.Now()
	r.Add("a", "A", StatusWaiting, now)
	r.Add("b", "B", StatusWaiting, now)
	order := r.TakeLobby()
	r.SetStatus(order, StatusPlaying)
	r.Add("s", "S", StatusSpectating, now)
	assert.Empty(t, r.Lobby())

	r.ReturnToLobby(order)

	assert.Equal(t, []string{"a", "b", "s"}, r.Lobby())
	for _, p := range r.Players() {
		assert.Equal(t, StatusWaiting, p.Status)
	}
}

func TestRosterResetAll(t *testing.T) {
	r := NewRoster()
	now := time.Now()
	a, _ := r.Add("a", "A", StatusWaiting, now)
	s, _ := r.Add("s", "S", StatusSpectating, now)
	a.Score = 12
	a.Status = StatusPlaying
	r.TakeLobby()

	r.ResetAll()

	assert.Equal(t, []string{"a", "s"}, r.Lobby())
	assert.Equal(t, 0, a.Score)
	assert.Equal(t, StatusWaiting, a.Status)
	assert.Equal(t, StatusWaiting, s.Status)
}
