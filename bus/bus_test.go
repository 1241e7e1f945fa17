package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestSubjectNamespacesByConnectionAndRendition(t *testing.T) {
	require.Equal(t, "manifests.conn1.720p0", ManifestSubject("conn1", "720p0"))
}

func TestDedupeKeyIncludesFullTuple(t *testing.T) {
	require.Equal(t, "conn1/720p0/3/7", DedupeKey("conn1", "720p0", 3, 7))
}

func TestEventSubjectNamespacesByConnection(t *testing.T) {
	require.Equal(t, "events.conn1", EventSubject("conn1"))
}
