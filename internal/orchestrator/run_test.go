package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveProfiles_DefaultsToDesktopAndMobile(t *testing.T) {
	profiles := resolveProfiles("")
	names := []string{profiles[0].Name, profiles[1].Name}
	assert.ElementsMatch(t, []string{"desktop", "mobile"}, names)
}

func TestResolveProfiles_HonorsExplicitList(t *testing.T) {
	profiles := resolveProfiles("mobile")
	assert.Len(t, profiles, 1)
	assert.Equal(t, "mobile", profiles[0].Name)
}

func TestResolveProfiles_UnknownNamesFallBackToDesktop(t *testing.T) {
	profiles := resolveProfiles("tablet")
	assert.Len(t, profiles, 1)
	assert.Equal(t, "desktop", profiles[0].Name)
}
