package config

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomTrailerMatchesCharset(t *testing.T) {
	require.Regexp(t, regexp.MustCompile(`^[a-z0-9]{8}$`), RandomTrailer(8))
}
