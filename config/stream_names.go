package config

import (
	"math/rand"
	"time"
)

// RandomTrailer returns a random lowercase-alphanumeric string of the given
// length, used as the default request-ID suffix (requests.GetRequestId).
func RandomTrailer(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = charset[r.Intn(len(charset))]
	}
	return string(res)
}
