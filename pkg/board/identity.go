package board

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tytools/tytools/pkg/tyerr"
)

// Identity formats the canonical "<location>#<serial>" board identity
// string. The "#<serial>" suffix is omitted when serial is zero.
func Identity(location string, serial uint64) string {
	if serial == 0 {
		return location
	}
	return fmt.Sprintf("%s#%d", location, serial)
}

// ParseIdentity splits a spec string as "[location][#serial]", where
// either side may be empty. An empty spec parses to ("", 0), which
// MatchesIdentity treats as "matches anything".
func ParseIdentity(spec string) (location string, serial uint64, err error) {
	if spec == "" {
		return "", 0, nil
	}

	idx := strings.IndexByte(spec, '#')
	if idx < 0 {
		return spec, 0, nil
	}

	location = spec[:idx]
	rest := spec[idx+1:]
	if rest == "" {
		return location, 0, nil
	}

	serial, convErr := strconv.ParseUint(rest, 10, 64)
	if convErr != nil {
		return "", 0, tyerr.New(tyerr.KindParam, "#<serial> must be a number: %q", rest)
	}

	return location, serial, nil
}
