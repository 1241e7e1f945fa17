package recording

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestNullIfEmpty(t *testing.T) {
	require.Nil(t, nullIfEmpty(""))
	require.Equal(t, "abc", nullIfEmpty("abc"))
}

func TestUniqueViolationIsRecognizedAsTokenAlreadyUsed(t *testing.T) {
	err := &pq.Error{Code: "23505"}

	var pqErr *pq.Error
	require.True(t, errors.As(err, &pqErr))
	require.Equal(t, pq.ErrorCode("23505"), pqErr.Code)
}
