package redis

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// IsOOMError returns true if the error is a Redis OOM (Out of Memory) error.
// Redis returns "OOM command not allowed when used memory > 'maxmemory'" when
// it cannot execute write commands due to memory limits.
func IsOOMError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "OOM")
}

// IsNil reports whether err is the go-redis "key does not exist" reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
