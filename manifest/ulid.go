package manifest

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

func parseULID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("manifest: parse recording id %q: %w", s, err)
	}
	return id, nil
}
