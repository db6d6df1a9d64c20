package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crmmc/ncmdump/version"
)

func TestString(t *testing.T) {
	want := version.Version() + " (" + version.Commit() + " - " + version.Date() + ")"
	assert.Equal(t, want, version.String())
	assert.Equal(t, "ncmdump", version.Name())
}
