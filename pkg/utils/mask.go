package utils

import "regexp"

var (
	dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)
	kvPasswordRegex  = regexp.MustCompile(`(password=)('[^']*'|\S+)`)
)

// MaskDSN hides the password in a Postgres, Redis or AMQP URL, or in a
// libpq key=value connection string, before it is logged.
func MaskDSN(dsn string) string {
	dsn = dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
	return kvPasswordRegex.ReplaceAllString(dsn, "${1}***")
}
