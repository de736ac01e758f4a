package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Заполняются через -ldflags "-X github.com/lu-lu-xue/OrderManagement/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

// String — строка для флага -version.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent собирает заголовок User-Agent для исходящих запросов к payment и inventory.
func UserAgent(component string) string {
	if component == "" {
		component = "order-service"
	}
	short := commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s/%s (%s)", component, version, short)
}

// Fields — поля сборки для стартового лога.
func Fields() log.Fields {
	return log.Fields{
		"version": version,
		"commit":  commit,
		"built":   date,
	}
}
