package usermap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac2git/ac2git/internal/config"
	"github.com/ac2git/ac2git/pkg/usermap"
)

func TestResolver_Resolve_MappedUser(t *testing.T) {
	r, err := usermap.NewResolver(map[string]config.UserSpec{
		"jdoe": {Name: "Jane Doe", Email: "jane@example.com", Timezone: "America/New_York"},
	})
	require.NoError(t, err)

	when := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	sig, err := r.Resolve("jdoe", when)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", sig.Name)
	assert.Equal(t, "jane@example.com", sig.Email)
	assert.Equal(t, "America/New_York", sig.When.Location().String())
	assert.True(t, sig.When.Equal(when))
}

func TestResolver_Resolve_DefaultsToUTCWithoutTimezone(t *testing.T) {
	r, err := usermap.NewResolver(map[string]config.UserSpec{
		"jdoe": {Name: "Jane Doe", Email: "jane@example.com"},
	})
	require.NoError(t, err)

	sig, err := r.Resolve("jdoe", time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, sig.When.Location())
}

func TestResolver_Resolve_UnmappedUserErrors(t *testing.T) {
	r, err := usermap.NewResolver(nil)
	require.NoError(t, err)

	_, err = r.Resolve("ghost", time.Now())
	require.ErrorIs(t, err, usermap.ErrUnmappedUser)
}

func TestResolver_Resolve_UnmappedUserFallsBack(t *testing.T) {
	r, err := usermap.NewResolver(nil, usermap.WithFallback())
	require.NoError(t, err)

	sig, err := r.Resolve("ghost", time.Unix(100, 0))
	require.NoError(t, err)
	assert.Equal(t, "ghost", sig.Name)
	assert.Equal(t, "ghost", sig.Email)
}

func TestNewResolver_InvalidTimezoneErrors(t *testing.T) {
	_, err := usermap.NewResolver(map[string]config.UserSpec{
		"jdoe": {Name: "Jane Doe", Email: "jane@example.com", Timezone: "Not/A/Zone"},
	})
	require.Error(t, err)
}
